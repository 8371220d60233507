package services

import (
	"context"
	"strings"
	"testing"

	"github.com/mira-ai/mira/internal/domain/models"
)

// bulkyMemory builds a surfaced memory whose content estimates to roughly
// 100 tokens, so budgets in the tests stay easy to reason about.
func bulkyMemory(id string, score float64, pinned bool) *models.SurfacedMemory {
	m := surfaced(id, strings.Repeat("x", 400), score)
	m.Pinned = pinned
	return m
}

func memoryIDs(list []*models.SurfacedMemory) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Memory.ID
	}
	return out
}

func TestPressureEvacuator_UnderBudgetUnchanged(t *testing.T) {
	e := NewPressureEvacuator(10000, nil)
	continuum := models.NewContinuum("mc_1", "alice")
	previous := []*models.SurfacedMemory{
		bulkyMemory("mem_a", 0.9, false),
		bulkyMemory("mem_b", 0.5, true),
	}

	got, err := e.EvacuateIfPressured(context.Background(), continuum, previous)
	if err != nil {
		t.Fatalf("EvacuateIfPressured: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("under budget nothing should be dropped, got %d", len(got))
	}
}

func TestPressureEvacuator_DropsLowestScoreFirst(t *testing.T) {
	// Each entry is ~106 tokens; budget 250 fits the pinned entry plus the
	// single strongest unpinned one.
	e := NewPressureEvacuator(250, nil)
	continuum := models.NewContinuum("mc_1", "alice")
	previous := []*models.SurfacedMemory{
		bulkyMemory("mem_low", 0.2, false),
		bulkyMemory("mem_pinned", 0.1, true),
		bulkyMemory("mem_high", 0.9, false),
		bulkyMemory("mem_mid", 0.5, false),
	}

	got, err := e.EvacuateIfPressured(context.Background(), continuum, previous)
	if err != nil {
		t.Fatalf("EvacuateIfPressured: %v", err)
	}

	ids := memoryIDs(got)
	if len(ids) != 2 || ids[0] != "mem_pinned" || ids[1] != "mem_high" {
		t.Errorf("expected [mem_pinned mem_high], got %v", ids)
	}
}

func TestPressureEvacuator_PinnedSurviveEvenOverBudget(t *testing.T) {
	e := NewPressureEvacuator(50, nil)
	continuum := models.NewContinuum("mc_1", "alice")
	previous := []*models.SurfacedMemory{
		bulkyMemory("mem_p1", 0.3, true),
		bulkyMemory("mem_p2", 0.2, true),
		bulkyMemory("mem_u", 0.9, false),
	}

	got, err := e.EvacuateIfPressured(context.Background(), continuum, previous)
	if err != nil {
		t.Fatalf("EvacuateIfPressured: %v", err)
	}

	ids := memoryIDs(got)
	if len(ids) != 2 || ids[0] != "mem_p1" || ids[1] != "mem_p2" {
		t.Errorf("pinned memories must survive in order, got %v", ids)
	}
}

func TestPressureEvacuator_NoDuplicatesAfterEvacuation(t *testing.T) {
	e := NewPressureEvacuator(400, nil)
	continuum := models.NewContinuum("mc_1", "alice")
	previous := []*models.SurfacedMemory{
		bulkyMemory("mem_a", 0.9, true),
		bulkyMemory("mem_b", 0.8, false),
		bulkyMemory("mem_c", 0.7, false),
		bulkyMemory("mem_d", 0.6, false),
		bulkyMemory("mem_e", 0.5, false),
	}

	got, err := e.EvacuateIfPressured(context.Background(), continuum, previous)
	if err != nil {
		t.Fatalf("EvacuateIfPressured: %v", err)
	}

	seen := make(map[string]bool)
	for _, id := range memoryIDs(got) {
		if seen[id] {
			t.Fatalf("memory %s appears twice after evacuation", id)
		}
		seen[id] = true
	}
}

func TestPressureEvacuator_Aggressive(t *testing.T) {
	e := NewPressureEvacuator(0, nil)
	continuum := models.NewContinuum("mc_1", "alice")
	previous := []*models.SurfacedMemory{
		bulkyMemory("mem_u1", 0.4, false),
		bulkyMemory("mem_p", 0.1, true),
		bulkyMemory("mem_u2", 0.9, false),
		bulkyMemory("mem_u3", 0.6, false),
		bulkyMemory("mem_u4", 0.7, false),
	}

	got, err := e.EvacuateAggressive(context.Background(), continuum, previous)
	if err != nil {
		t.Fatalf("EvacuateAggressive: %v", err)
	}

	ids := memoryIDs(got)
	want := []string{"mem_p", "mem_u2", "mem_u4", "mem_u3"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d survivors, got %v", len(want), ids)
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("survivor[%d] = %s, want %s", i, ids[i], id)
		}
	}
}
