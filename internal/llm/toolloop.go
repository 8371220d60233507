package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

// ToolExecutor runs registered tools on behalf of the model.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
	// SchemaHint returns a readable input schema for correction prompts, or
	// "" when the tool is unknown.
	SchemaHint(name string) string
}

// toolBreaker guards the loop against degenerate calling patterns.
type toolBreaker interface {
	Record(tool, result string, err error)
	ShouldContinue() (bool, string)
}

type toolRun struct {
	call   models.ContentBlock
	result string
	err    error
}

func (r toolRun) resultBlock() models.ContentBlock {
	if r.err != nil {
		return models.ToolResultBlock(r.call.ID, r.err.Error(), true)
	}
	return models.ToolResultBlock(r.call.ID, r.result, false)
}

// executeTools runs every tool_use block through the executor on a bounded
// worker pool, preserving block order in the returned runs. The caller's
// context rides into each worker so storage access stays scoped to the
// acting user.
func executeTools(ctx context.Context, executor ToolExecutor, calls []models.ContentBlock, workers int, emit func(StreamEvent)) []toolRun {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	emitLocked := func(ev StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}

	runs := make([]toolRun, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, call := range calls {
		runs[i].call = call
		g.Go(func() error {
			emitLocked(ToolExecutingEvent{ToolName: call.Name, ToolID: call.ID, Arguments: call.Input})

			result, err := executor.Execute(gctx, call.Name, call.Input)
			if err != nil {
				err = withSchemaHint(err, executor, call.Name)
				runs[i].err = err
				emitLocked(ToolErrorEvent{ToolName: call.Name, ToolID: call.ID, Error: err.Error()})
				return nil
			}

			runs[i].result = result
			emitLocked(ToolCompletedEvent{ToolName: call.Name, ToolID: call.ID, Result: result})
			return nil
		})
	}

	g.Wait()
	return runs
}

// withSchemaHint appends the tool's input schema to parameter-shaped errors
// so the model can correct itself on the next round.
func withSchemaHint(err error, executor ToolExecutor, name string) error {
	if !isValidationError(err) {
		return err
	}
	hint := executor.SchemaHint(name)
	if hint == "" {
		return err
	}
	return fmt.Errorf("%w\n\nExpected input schema for %s:\n%s", err, name, hint)
}

var validationMarkers = []string{"unknown operation", "invalid", "required", "missing", "parameter"}

func isValidationError(err error) bool {
	if errors.Is(err, domain.ErrInvalidToolArgs) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range validationMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// clientToolUses returns the tool_use blocks the loop must execute locally.
// Server-side tools run on the provider; their blocks carry no obligation
// to inject a matching tool_result.
func clientToolUses(blocks []models.ContentBlock) []models.ContentBlock {
	var calls []models.ContentBlock
	for _, b := range blocks {
		if b.Type == models.BlockTypeToolUse && b.Name != serverToolName {
			calls = append(calls, b)
		}
	}
	return calls
}
