package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

// Tool is one invocable capability. Implementations register themselves with
// a Registry under their definition's name.
type Tool interface {
	Definition() models.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

type entry struct {
	tool     Tool
	def      models.ToolDefinition
	schema   *jsonschema.Schema
	deferred bool
}

// Registry keys tools by name and guards their invocation with compiled
// input-schema validation. Deferred tools are known but not advertised until
// loaded.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds an immediately available tool.
func (r *Registry) Register(t Tool) error {
	return r.register(t, false)
}

// RegisterDeferred adds a tool that stays hidden until LoadTool enables it.
func (r *Registry) RegisterDeferred(t Tool) error {
	return r.register(t, true)
}

func (r *Registry) register(t Tool, deferred bool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("%w: tool has no name", domain.ErrInvalidInput)
	}

	var compiled *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		var err error
		compiled, err = jsonschema.CompileString(def.Name, string(def.InputSchema))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("%w: tool %s already registered", domain.ErrInvalidInput, def.Name)
	}
	r.entries[def.Name] = &entry{tool: t, def: def, schema: compiled, deferred: deferred}
	r.order = append(r.order, def.Name)

	r.logger.Debug("tool registered", "tool", def.Name, "deferred", deferred)
	return nil
}

// Definitions returns the currently enabled tool schemas in registration
// order.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if e.deferred {
			continue
		}
		defs = append(defs, e.def)
	}
	return defs
}

func (r *Registry) GetDefinition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	return e.def, true
}

// Execute validates args against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || e.deferred {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}

	if e.schema != nil {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		var payload any
		if err := json.Unmarshal(args, &payload); err != nil {
			return "", fmt.Errorf("%w: arguments are not valid JSON: %v", domain.ErrInvalidToolArgs, err)
		}
		if err := e.schema.Validate(payload); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
		}
	}

	result, err := e.tool.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	return result, nil
}

// SchemaHint returns an indented input schema for correction prompts, or ""
// when the tool is unknown or schemaless.
func (r *Registry) SchemaHint(name string) string {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || len(e.def.InputSchema) == 0 {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, e.def.InputSchema, "", "  "); err != nil {
		return string(e.def.InputSchema)
	}
	return buf.String()
}

// LoadTool enables a deferred tool matching the query and returns its name.
// Exact names win; otherwise the first deferred tool whose name or
// description contains the query (case-insensitive) is loaded.
func (r *Registry) LoadTool(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: empty tool query", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[query]; ok {
		if e.deferred {
			e.deferred = false
			r.logger.Info("deferred tool loaded", "tool", query)
		}
		return query, nil
	}

	lower := strings.ToLower(query)
	for _, name := range r.order {
		e := r.entries[name]
		if !e.deferred {
			continue
		}
		if strings.Contains(strings.ToLower(name), lower) ||
			strings.Contains(strings.ToLower(e.def.Description), lower) {
			e.deferred = false
			r.logger.Info("deferred tool loaded", "tool", name, "query", query)
			return name, nil
		}
	}

	return "", fmt.Errorf("%w: no tool matches %q", domain.ErrToolNotFound, query)
}
