package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/modules"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// fingerprintTailMessages bounds how much recent conversation the
	// fingerprint model sees.
	fingerprintTailMessages = 6
	fingerprintTailChars    = 280
	fingerprintMemoryChars  = 100
)

// fingerprintInstructions frames the prediction. It rides along as an input
// field on every call.
var fingerprintInstructions = `You prepare memory retrieval for a personal assistant.

Write search_query: a short retrieval-optimized query capturing what long-term
memories would help answer the user's message. Merge the conversation topic
with the concrete things the message mentions.

Review candidate_memories, a checklist of memories currently in context. Return
it as memory_votes with each line's checkbox filled in: [x] to keep a memory in
context because it is still relevant, [ ] to let it go.

List entities: people, organizations and events the user's message refers to,
formatted "Name (PERSON)", "Name (ORG)", "Name (EVENT)", comma separated, or
NONE.`

// FingerprintService distills a turn into a retrieval query plus retention
// votes over the memories already in context. It runs a single utility-model
// prediction; any failure aborts the turn instead of degrading retrieval
// silently.
type FingerprintService struct {
	predict *modules.Predict
}

func NewFingerprintService(lm core.LLM) *FingerprintService {
	sig := core.NewSignature(
		[]core.InputField{
			{Field: core.NewField("instructions")},
			{Field: core.NewField("conversation_tail")},
			{Field: core.NewField("user_message")},
			{Field: core.NewField("candidate_memories")},
		},
		[]core.OutputField{
			{Field: core.NewField("search_query")},
			{Field: core.NewField("memory_votes")},
			{Field: core.NewField("entities")},
		},
	)
	predict := modules.NewPredict(sig)
	predict.SetLLM(lm)
	return &FingerprintService{predict: predict}
}

// Generate implements ports.FingerprintGenerator.
func (s *FingerprintService) Generate(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory) (*ports.Fingerprint, error) {
	outputs, err := s.predict.Process(ctx, map[string]any{
		"instructions":       fingerprintInstructions,
		"conversation_tail":  conversationTail(continuum),
		"user_message":       clip(userText, fingerprintTailChars),
		"candidate_memories": voteSheet(previous),
	})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrFingerprintFailed, "fingerprint prediction failed")
	}

	fp := &ports.Fingerprint{
		Query: strings.TrimSpace(outputText(outputs, "search_query")),
	}
	if fp.Query == "" {
		return nil, domain.NewDomainError(domain.ErrFingerprintFailed, "model produced no search query")
	}

	parseVotes(fp, outputText(outputs, "memory_votes"), previous)
	fp.Entities = parseEntities(outputText(outputs, "entities"))
	return fp, nil
}

// conversationTail renders the last few real messages as "role: text" lines.
func conversationTail(continuum *models.Continuum) string {
	history := continuum.History()
	if len(history) > fingerprintTailMessages {
		history = history[len(history)-fingerprintTailMessages:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, clip(text, fingerprintTailChars)))
	}
	if len(lines) == 0 {
		return "(start of conversation)"
	}
	return strings.Join(lines, "\n")
}

// voteSheet renders the surfaced memories as an unchecked checklist keyed by
// short ID.
func voteSheet(previous []*models.SurfacedMemory) string {
	if len(previous) == 0 {
		return "(no memories in context)"
	}
	lines := make([]string, 0, len(previous))
	for _, m := range previous {
		lines = append(lines, fmt.Sprintf("- [ ] %s: %s", models.ShortID(m.Memory.ID), clip(m.Memory.Content, fingerprintMemoryChars)))
	}
	return strings.Join(lines, "\n")
}

func outputText(outputs map[string]any, key string) string {
	if v, ok := outputs[key].(string); ok {
		return v
	}
	return ""
}

// parseVotes reads the returned checklist. Checked boxes pin and retain,
// unchecked boxes vote to forget. Short IDs that were never surfaced are
// dropped.
func parseVotes(fp *ports.Fingerprint, votes string, previous []*models.SurfacedMemory) {
	known := make(map[string]bool, len(previous))
	for _, m := range previous {
		known[models.ShortID(m.Memory.ID)] = true
	}

	for _, line := range strings.Split(votes, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "-"))

		var checked bool
		switch {
		case strings.HasPrefix(line, "[x]"), strings.HasPrefix(line, "[X]"):
			checked = true
		case strings.HasPrefix(line, "[ ]"), strings.HasPrefix(line, "[]"):
			checked = false
		default:
			continue
		}

		id := shortIDToken(line[strings.Index(line, "]")+1:])
		if !known[id] {
			continue
		}
		if checked {
			fp.PinnedShortIDs = append(fp.PinnedShortIDs, id)
			fp.RetainShortIDs = append(fp.RetainShortIDs, id)
		} else {
			fp.ForgetShortIDs = append(fp.ForgetShortIDs, id)
		}
	}
}

func shortIDToken(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ": \t"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

var entityPattern = regexp.MustCompile(`^(.*?)\s*\(([A-Za-z_]+)\)$`)

// parseEntities reads "Name (KIND), ..." lists. Bare names and unknown kinds
// fall back to the default entity weight downstream.
func parseEntities(raw string) []models.Entity {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return nil
	}

	var entities []models.Entity
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := entityPattern.FindStringSubmatch(part); m != nil {
			text := strings.TrimSpace(m[1])
			if text == "" {
				continue
			}
			entities = append(entities, models.Entity{Text: text, Kind: models.EntityKind(strings.ToUpper(m[2]))})
			continue
		}
		entities = append(entities, models.Entity{Text: part})
	}
	return entities
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
