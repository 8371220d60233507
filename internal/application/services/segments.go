package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// manifestWindowDays bounds how far back the segment manifest reaches.
	manifestWindowDays = 7
	// collapseTranscriptChars caps each message's contribution to the
	// summarization transcript.
	collapseTranscriptChars = 500
	collapseMaxTokens       = 512
)

var collapsePrompt = `Summarize this conversation episode for a segment index.

Return exactly two lines:
TITLE: a display title of at most six words
SUMMARY: two to four sentences covering what was discussed, decided or done`

// SegmentsService manages the segment lifecycle: the active sentinel that
// opens each episode, idle-triggered collapse into a titled summary, manual
// collapse and postponement, and the manifest digest shown to the model.
type SegmentsService struct {
	segments   ports.SegmentRepository
	messages   ports.MessageRepository
	continuums ports.ContinuumRepository
	engine     ports.LLMEngine
	embedding  ports.EmbeddingService
	ids        ports.IDGenerator
	bus        *events.Bus
	logger     *slog.Logger
	timeout    time.Duration
	model      string
	now        func() time.Time
}

func NewSegmentsService(
	segments ports.SegmentRepository,
	messages ports.MessageRepository,
	continuums ports.ContinuumRepository,
	engine ports.LLMEngine,
	embedding ports.EmbeddingService,
	ids ports.IDGenerator,
	bus *events.Bus,
	logger *slog.Logger,
	timeout time.Duration,
	model string,
) *SegmentsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentsService{
		segments:   segments,
		messages:   messages,
		continuums: continuums,
		engine:     engine,
		embedding:  embedding,
		ids:        ids,
		bus:        bus,
		logger:     logger,
		timeout:    timeout,
		model:      model,
		now:        time.Now,
	}
}

// EnsureActiveSentinel implements ports.SegmentService.
func (s *SegmentsService) EnsureActiveSentinel(ctx context.Context, continuum *models.Continuum) (*models.Segment, error) {
	if sentinel := continuum.ActiveSentinel(); sentinel != nil {
		return s.segments.GetByID(ctx, sentinel.Meta.SegmentID)
	}
	return s.openSegment(ctx, continuum, continuum.NextSequence())
}

// MaybeCollapse implements ports.SegmentService. The segment collapses when
// the idle window has passed relative to the virtual last message time; a
// virtual time in the future means the collapse was postponed.
func (s *SegmentsService) MaybeCollapse(ctx context.Context, continuum *models.Continuum, now time.Time) (bool, error) {
	sentinel := continuum.ActiveSentinel()
	if sentinel == nil {
		return false, nil
	}
	last := lastActivity(continuum, sentinel)
	if now.Before(last) || now.Sub(last) < s.timeout {
		return false, nil
	}
	window := continuum.ActiveWindow()
	if len(window) == 0 {
		return false, nil
	}
	if err := s.collapse(ctx, continuum, sentinel, window, now); err != nil {
		return false, err
	}
	return true, nil
}

// CollapseNow collapses the active segment on request, ignoring the idle
// window.
func (s *SegmentsService) CollapseNow(ctx context.Context, continuumID string) error {
	if err := ValidateContinuumIDFormat(continuumID); err != nil {
		return err
	}
	continuum, err := s.continuums.GetByID(ctx, continuumID)
	if err != nil {
		return err
	}
	sentinel := continuum.ActiveSentinel()
	if sentinel == nil {
		return domain.NewDomainError(domain.ErrNoActiveSegment, "nothing to collapse")
	}
	window := continuum.ActiveWindow()
	if len(window) == 0 {
		return domain.NewDomainError(domain.ErrInvalidInput, "active segment has no messages")
	}
	return s.collapse(ctx, continuum, sentinel, window, s.now().UTC())
}

// Postpone implements ports.SegmentService. Postponements stack: when the
// virtual time is already in the future the interval extends it, otherwise
// it extends now.
func (s *SegmentsService) Postpone(ctx context.Context, continuumID string, d time.Duration) (time.Time, error) {
	if err := ValidateContinuumIDFormat(continuumID); err != nil {
		return time.Time{}, err
	}
	continuum, err := s.continuums.GetByID(ctx, continuumID)
	if err != nil {
		return time.Time{}, err
	}
	sentinel := continuum.ActiveSentinel()
	if sentinel == nil {
		return time.Time{}, domain.NewDomainError(domain.ErrNoActiveSegment, "no active segment to postpone")
	}

	base := s.now().UTC()
	if v := sentinel.Meta.VirtualLastMessageTime; v != nil && v.After(base) {
		base = *v
	}
	virtual := base.Add(d)
	sentinel.Meta.VirtualLastMessageTime = &virtual
	if err := s.messages.Update(ctx, sentinel); err != nil {
		return time.Time{}, err
	}
	return virtual, nil
}

// Manifest implements ports.SegmentService.
func (s *SegmentsService) Manifest(ctx context.Context, continuumID string, now time.Time) (string, error) {
	if err := ValidateContinuumIDFormat(continuumID); err != nil {
		return "", err
	}
	since := now.AddDate(0, 0, -manifestWindowDays)
	segments, err := s.segments.ListRecentByContinuum(ctx, continuumID, since)
	if err != nil {
		return "", domain.NewDomainError(err, "failed to list recent segments")
	}
	return models.FormatManifest(segments, now), nil
}

func (s *SegmentsService) openSegment(ctx context.Context, continuum *models.Continuum, sequence int) (*models.Segment, error) {
	seg := models.NewActiveSegment(s.ids.GenerateSegmentID(), continuum.UserID, continuum.ID, s.now().UTC())
	if err := s.segments.Create(ctx, seg); err != nil {
		return nil, err
	}
	sentinel := models.NewSentinel(s.ids.GenerateMessageID(), seg, sequence)
	if err := s.messages.Create(ctx, sentinel); err != nil {
		return nil, err
	}
	continuum.Append(sentinel)
	return seg, nil
}

// collapse summarizes the active window, marks the segment and its sentinel
// collapsed, archives the window out of the active message set, and opens
// the next segment. Summarization or embedding failure leaves the segment
// active so the next trigger retries.
func (s *SegmentsService) collapse(ctx context.Context, continuum *models.Continuum, sentinel *models.Message, window []*models.Message, now time.Time) error {
	title, summary, err := s.summarize(ctx, window)
	if err != nil {
		return fmt.Errorf("summarize segment %s: %w", sentinel.Meta.SegmentID, err)
	}
	vec, err := s.embedding.EncodeDeep(ctx, summary)
	if err != nil {
		return fmt.Errorf("embed segment summary: %w", err)
	}

	seg, err := s.segments.GetByID(ctx, sentinel.Meta.SegmentID)
	if err != nil {
		return err
	}

	ended := now.UTC()
	seg.Status = models.SegmentStatusCollapsed
	seg.Title = title
	seg.Summary = summary
	seg.ToolsUsed = toolsUsed(window)
	seg.MessageCount = len(window)
	seg.EndedAt = &ended
	seg.Embedding = vec
	if err := s.segments.Update(ctx, seg); err != nil {
		return err
	}

	sentinel.Meta.SegmentStatus = string(models.SegmentStatusCollapsed)
	sentinel.Meta.SegmentEndTime = &ended
	sentinel.Meta.DisplayTitle = title
	sentinel.Meta.Summary = summary
	sentinel.Meta.VirtualLastMessageTime = nil
	if err := s.messages.Update(ctx, sentinel); err != nil {
		return err
	}

	nextSeq := continuum.NextSequence()
	through := continuum.Messages[len(continuum.Messages)-1].Sequence
	if err := s.messages.ArchiveThroughSequence(ctx, continuum.ID, through); err != nil {
		return err
	}
	continuum.Messages = continuum.Messages[:0]

	if _, err := s.openSegment(ctx, continuum, nextSeq); err != nil {
		return err
	}

	s.logger.Info("segment collapsed",
		"continuum_id", continuum.ID,
		"segment_id", seg.ID,
		"title", title,
		"messages", seg.MessageCount)
	if s.bus != nil {
		s.bus.Publish(ctx, events.SegmentCollapsedEvent{
			UserID:    continuum.UserID,
			SegmentID: seg.ID,
			Title:     title,
		})
	}
	return nil
}

// summarize asks the utility model for a title and summary of the window.
func (s *SegmentsService) summarize(ctx context.Context, window []*models.Message) (string, string, error) {
	var sb strings.Builder
	sb.WriteString(collapsePrompt)
	sb.WriteString("\n\nTranscript:\n")
	for _, m := range window {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			if m.HasToolUse() {
				text = "(used tools)"
			} else {
				continue
			}
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, clip(text, collapseTranscriptChars))
	}

	out, err := s.engine.Complete(ctx, s.model, "", sb.String(), collapseMaxTokens)
	if err != nil {
		return "", "", err
	}

	title, summary := parseTitleSummary(out)
	if summary == "" {
		summary = strings.TrimSpace(out)
	}
	if title == "" {
		title = clip(summary, 60)
	}
	return title, summary, nil
}

func parseTitleSummary(out string) (string, string) {
	var title string
	var summaryLines []string
	inSummary := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "TITLE:"):
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "TITLE:"))
			inSummary = false
		case strings.HasPrefix(trimmed, "SUMMARY:"):
			summaryLines = append(summaryLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "SUMMARY:")))
			inSummary = true
		case inSummary && trimmed != "":
			summaryLines = append(summaryLines, trimmed)
		}
	}
	return title, strings.TrimSpace(strings.Join(summaryLines, " "))
}

// lastActivity is the reference point for the idle window: the latest of the
// sentinel's virtual time and every message's creation time.
func lastActivity(continuum *models.Continuum, sentinel *models.Message) time.Time {
	last := sentinel.EffectiveTime()
	for _, m := range continuum.Messages {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last
}

// toolsUsed collects unique tool names from the window in first-use order.
func toolsUsed(window []*models.Message) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range window {
		for _, b := range m.ToolUses() {
			if seen[b.Name] {
				continue
			}
			seen[b.Name] = true
			names = append(names, b.Name)
		}
	}
	return names
}
