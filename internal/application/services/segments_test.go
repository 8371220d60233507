package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

type segmentsFixture struct {
	segments   *fakeSegmentRepo
	messages   *fakeMessageRepo
	continuums *fakeContinuumRepo
	engine     *fakeEngine
	embedder   *fakeEmbedder
	svc        *SegmentsService
}

func newSegmentsFixture(t *testing.T) *segmentsFixture {
	t.Helper()
	f := &segmentsFixture{
		segments:   newFakeSegmentRepo(),
		messages:   newFakeMessageRepo(),
		continuums: newFakeContinuumRepo(),
		engine:     &fakeEngine{completion: "TITLE: Tea planning\nSUMMARY: Compared green teas and picked one."},
		embedder:   newFakeEmbedder(),
	}
	f.svc = NewSegmentsService(f.segments, f.messages, f.continuums, f.engine, f.embedder, &fakeIDs{}, nil, nil, 30*time.Minute, "utility-model")
	return f
}

// seedActiveSegment installs an open segment with a sentinel and n
// conversational messages, the last one at lastAt.
func (f *segmentsFixture) seedActiveSegment(continuum *models.Continuum, n int, lastAt time.Time) *models.Segment {
	seg := models.NewActiveSegment("mseg_open", continuum.UserID, continuum.ID, lastAt.Add(-time.Hour))
	f.segments.Create(context.Background(), seg)

	sentinel := models.NewSentinel("mm_sentinel", seg, continuum.NextSequence())
	f.messages.Create(context.Background(), sentinel)
	continuum.Append(sentinel)

	for i := 0; i < n; i++ {
		m := models.NewUserMessage("mm_body", continuum.ID, continuum.UserID, continuum.NextSequence(),
			[]models.ContentBlock{models.TextBlock("let's plan the tea order")})
		m.CreatedAt = lastAt.Add(time.Duration(i-n+1) * time.Minute)
		continuum.Append(m)
	}
	f.continuums.Create(context.Background(), continuum)
	return seg
}

func TestSegmentsService_EnsureActiveSentinelOpens(t *testing.T) {
	f := newSegmentsFixture(t)
	continuum := models.NewContinuum("mc_1", "alice")

	seg, err := f.svc.EnsureActiveSentinel(context.Background(), continuum)
	if err != nil {
		t.Fatalf("EnsureActiveSentinel: %v", err)
	}
	if seg.Status != models.SegmentStatusActive {
		t.Errorf("opened segment should be active, got %s", seg.Status)
	}
	sentinel := continuum.ActiveSentinel()
	if sentinel == nil {
		t.Fatal("continuum should carry the new sentinel")
	}
	if sentinel.Meta.SegmentID != seg.ID {
		t.Errorf("sentinel points at %s, segment is %s", sentinel.Meta.SegmentID, seg.ID)
	}
}

func TestSegmentsService_EnsureActiveSentinelReusesExisting(t *testing.T) {
	f := newSegmentsFixture(t)
	continuum := models.NewContinuum("mc_1", "alice")
	seg := f.seedActiveSegment(continuum, 1, time.Now().UTC())

	got, err := f.svc.EnsureActiveSentinel(context.Background(), continuum)
	if err != nil {
		t.Fatalf("EnsureActiveSentinel: %v", err)
	}
	if got.ID != seg.ID {
		t.Errorf("expected existing segment %s, got %s", seg.ID, got.ID)
	}
	if len(f.messages.created) != 1 {
		t.Errorf("no new sentinel should be created, have %d", len(f.messages.created))
	}
}

func TestSegmentsService_MaybeCollapseBeforeIdleWindow(t *testing.T) {
	f := newSegmentsFixture(t)
	now := time.Now().UTC()
	continuum := models.NewContinuum("mc_1", "alice")
	f.seedActiveSegment(continuum, 2, now.Add(-10*time.Minute))

	collapsed, err := f.svc.MaybeCollapse(context.Background(), continuum, now)
	if err != nil {
		t.Fatalf("MaybeCollapse: %v", err)
	}
	if collapsed {
		t.Error("segment should stay open inside the idle window")
	}
}

func TestSegmentsService_MaybeCollapseAfterIdleWindow(t *testing.T) {
	f := newSegmentsFixture(t)
	now := time.Now().UTC()
	continuum := models.NewContinuum("mc_1", "alice")
	seg := f.seedActiveSegment(continuum, 3, now.Add(-time.Hour))

	collapsed, err := f.svc.MaybeCollapse(context.Background(), continuum, now)
	if err != nil {
		t.Fatalf("MaybeCollapse: %v", err)
	}
	if !collapsed {
		t.Fatal("segment should collapse after the idle window")
	}

	stored, err := f.segments.GetByID(context.Background(), seg.ID)
	if err != nil {
		t.Fatalf("collapsed segment lookup: %v", err)
	}
	if stored.Status != models.SegmentStatusCollapsed {
		t.Errorf("status = %s, want collapsed", stored.Status)
	}
	if stored.Title != "Tea planning" || stored.Summary == "" {
		t.Errorf("collapsed segment missing title or summary: %+v", stored)
	}
	if stored.EndedAt == nil {
		t.Error("collapsed segment should record its end time")
	}
	if len(stored.Embedding) == 0 {
		t.Error("collapsed segment should carry a summary embedding")
	}
	if stored.MessageCount != 3 {
		t.Errorf("message count = %d, want 3", stored.MessageCount)
	}

	// Exactly one active sentinel remains, and it opens a new segment.
	next := continuum.ActiveSentinel()
	if next == nil {
		t.Fatal("collapse should open a fresh segment")
	}
	if next.Meta.SegmentID == seg.ID {
		t.Error("new sentinel must not reuse the collapsed segment")
	}
	if len(f.messages.archived) != 1 {
		t.Fatalf("collapse should archive the window once, got %d", len(f.messages.archived))
	}
	if got := continuum.ActiveWindow(); len(got) != 0 {
		t.Errorf("active window should reset after collapse, has %d messages", len(got))
	}
}

func TestSegmentsService_CollapseLeavesSegmentActiveOnSummarizeFailure(t *testing.T) {
	f := newSegmentsFixture(t)
	f.engine.err = errors.New("model unavailable")
	now := time.Now().UTC()
	continuum := models.NewContinuum("mc_1", "alice")
	seg := f.seedActiveSegment(continuum, 2, now.Add(-time.Hour))

	if _, err := f.svc.MaybeCollapse(context.Background(), continuum, now); err == nil {
		t.Fatal("expected summarization failure to surface")
	}

	stored, _ := f.segments.GetByID(context.Background(), seg.ID)
	if stored.Status != models.SegmentStatusActive {
		t.Errorf("failed collapse must leave the segment active, got %s", stored.Status)
	}
	if continuum.ActiveSentinel() == nil {
		t.Error("sentinel should remain active for retry")
	}
}

func TestSegmentsService_CollapseNowWithoutActiveSegment(t *testing.T) {
	f := newSegmentsFixture(t)
	continuum := models.NewContinuum("mc_1", "alice")
	f.continuums.Create(context.Background(), continuum)

	err := f.svc.CollapseNow(context.Background(), "mc_1")
	if !errors.Is(err, domain.ErrNoActiveSegment) {
		t.Errorf("expected ErrNoActiveSegment, got %v", err)
	}
}

func TestSegmentsService_PostponeStacks(t *testing.T) {
	f := newSegmentsFixture(t)
	now := time.Now().UTC()
	continuum := models.NewContinuum("mc_1", "alice")
	f.seedActiveSegment(continuum, 1, now)
	f.svc.now = func() time.Time { return now }

	first, err := f.svc.Postpone(context.Background(), "mc_1", time.Hour)
	if err != nil {
		t.Fatalf("first postpone: %v", err)
	}
	if got := first.Sub(now); got != time.Hour {
		t.Errorf("first postpone extends now by %v, want 1h", got)
	}

	second, err := f.svc.Postpone(context.Background(), "mc_1", 30*time.Minute)
	if err != nil {
		t.Fatalf("second postpone: %v", err)
	}
	if got := second.Sub(first); got != 30*time.Minute {
		t.Errorf("second postpone should extend the virtual time, extended by %v", got)
	}
}

func TestParseTitleSummary(t *testing.T) {
	tests := []struct {
		name        string
		out         string
		wantTitle   string
		wantSummary string
	}{
		{
			name:        "well formed",
			out:         "TITLE: Trip planning\nSUMMARY: Booked flights and a hotel.",
			wantTitle:   "Trip planning",
			wantSummary: "Booked flights and a hotel.",
		},
		{
			name:        "multi-line summary",
			out:         "TITLE: Budget\nSUMMARY: Reviewed spending.\nAgreed on monthly caps.",
			wantTitle:   "Budget",
			wantSummary: "Reviewed spending. Agreed on monthly caps.",
		},
		{
			name:        "missing markers",
			out:         "just prose with no markers",
			wantTitle:   "",
			wantSummary: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, summary := parseTitleSummary(tt.out)
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
			if summary != tt.wantSummary {
				t.Errorf("summary = %q, want %q", summary, tt.wantSummary)
			}
		})
	}
}
