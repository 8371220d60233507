package services

import (
	"context"
	"log/slog"
	"sort"

	"github.com/mira-ai/mira/internal/domain/models"
)

const (
	// defaultEvacuationBudget is the token share the surfaced-memory section
	// may occupy before evacuation kicks in.
	defaultEvacuationBudget = 2000
	// memoryEntryTokens approximates the framing around each rendered entry.
	memoryEntryTokens = 6
	// aggressiveKeep is how many unpinned memories survive an aggressive
	// evacuation.
	aggressiveKeep = 3
)

// PressureEvacuator trims the surfaced-memory list when its token estimate
// outgrows its budget. Pinned memories always survive; unpinned ones are
// dropped lowest score first. Evacuated memories stay searchable in long-term
// storage.
type PressureEvacuator struct {
	budget int
	logger *slog.Logger
}

func NewPressureEvacuator(budget int, logger *slog.Logger) *PressureEvacuator {
	if budget <= 0 {
		budget = defaultEvacuationBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PressureEvacuator{budget: budget, logger: logger}
}

// EvacuateIfPressured implements ports.MemoryEvacuator.
func (e *PressureEvacuator) EvacuateIfPressured(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error) {
	estimate := memoryTokens(previous)
	if estimate <= e.budget {
		return previous, nil
	}

	kept := make([]*models.SurfacedMemory, 0, len(previous))
	used := 0
	for _, m := range previous {
		if m.Pinned {
			kept = append(kept, m)
			used += entryTokens(m)
		}
	}
	for _, m := range unpinnedByScore(previous) {
		t := entryTokens(m)
		if used+t > e.budget {
			break
		}
		kept = append(kept, m)
		used += t
	}

	e.logger.Info("memory pressure evacuation",
		"continuum_id", continuum.ID,
		"estimated_tokens", estimate,
		"budget", e.budget,
		"before", len(previous),
		"after", len(kept))
	return kept, nil
}

// EvacuateAggressive implements ports.MemoryEvacuator. Pinned memories plus
// the strongest few unpinned ones survive.
func (e *PressureEvacuator) EvacuateAggressive(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error) {
	kept := make([]*models.SurfacedMemory, 0, len(previous))
	for _, m := range previous {
		if m.Pinned {
			kept = append(kept, m)
		}
	}
	unpinned := unpinnedByScore(previous)
	if len(unpinned) > aggressiveKeep {
		unpinned = unpinned[:aggressiveKeep]
	}
	kept = append(kept, unpinned...)

	e.logger.Info("aggressive memory evacuation",
		"continuum_id", continuum.ID,
		"before", len(previous),
		"after", len(kept))
	return kept, nil
}

func unpinnedByScore(previous []*models.SurfacedMemory) []*models.SurfacedMemory {
	var unpinned []*models.SurfacedMemory
	for _, m := range previous {
		if !m.Pinned {
			unpinned = append(unpinned, m)
		}
	}
	sort.SliceStable(unpinned, func(i, j int) bool {
		return unpinned[i].Score > unpinned[j].Score
	})
	return unpinned
}

func entryTokens(m *models.SurfacedMemory) int {
	return len(m.Memory.Content)/4 + memoryEntryTokens
}

func memoryTokens(list []*models.SurfacedMemory) int {
	total := 0
	for _, m := range list {
		total += entryTokens(m)
	}
	return total
}
