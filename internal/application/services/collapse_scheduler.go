package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// SegmentIdlePrefix namespaces the expiring idle keys the scheduler arms;
	// the expiry listener routes matching expirations back to HandleExpiry.
	SegmentIdlePrefix = "segment_idle:"
	// segmentIdleWarningOffset is how early the warning key fires before the
	// idle key itself expires.
	segmentIdleWarningOffset = 30 * time.Second
)

// CollapseScheduler turns segment idleness into collapse checks without
// polling. Every completed turn re-arms an expiring idle key for the
// continuum; when the key's warning fires with no turn having reset it, the
// segment has sat idle for the full window and MaybeCollapse runs.
type CollapseScheduler struct {
	segments   ports.SegmentService
	continuums ports.ContinuumRepository
	kv         ports.KVStore
	idle       time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewCollapseScheduler(segments ports.SegmentService, continuums ports.ContinuumRepository, kv ports.KVStore, idle time.Duration, logger *slog.Logger) *CollapseScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollapseScheduler{
		segments:   segments,
		continuums: continuums,
		kv:         kv,
		idle:       idle,
		logger:     logger,
		now:        time.Now,
	}
}

// Subscribe attaches the scheduler to the turn-completed stream.
func (s *CollapseScheduler) Subscribe(bus *events.Bus) {
	bus.Subscribe("TurnCompletedEvent", func(ctx context.Context, ev events.Event) error {
		turn, ok := ev.(events.TurnCompletedEvent)
		if !ok {
			return nil
		}
		return s.Arm(ctx, turn.ContinuumID)
	})
}

// Arm (re)starts the idle countdown for the continuum's active segment. The
// key must exist for the EXPIRE underneath SetTTLWithWarning to take; its
// value is a bare marker, the listener works off the key name alone.
func (s *CollapseScheduler) Arm(ctx context.Context, continuumID string) error {
	key := SegmentIdlePrefix + continuumID
	ttl := s.idle + segmentIdleWarningOffset
	if err := s.kv.Set(ctx, key, "1", ttl); err != nil {
		s.logger.Warn("segment idle key not armed", "continuum_id", continuumID, "error", err)
		return err
	}
	if err := s.kv.SetTTLWithWarning(ctx, key, ttl, segmentIdleWarningOffset); err != nil {
		s.logger.Warn("segment idle key not armed", "continuum_id", continuumID, "error", err)
		return err
	}
	return nil
}

// HandleExpiry is the expiry-listener callback for segment_idle keys. A
// postponed segment simply re-arms for the remaining wait.
func (s *CollapseScheduler) HandleExpiry(ctx context.Context, key string) error {
	continuumID := strings.TrimPrefix(key, SegmentIdlePrefix)

	continuum, err := s.continuums.GetByID(ctx, continuumID)
	if err != nil {
		return err
	}

	collapsed, err := s.segments.MaybeCollapse(ctx, continuum, s.now().UTC())
	if err != nil {
		return err
	}
	if collapsed {
		s.logger.Info("idle segment collapsed", "continuum_id", continuumID)
		return nil
	}
	// Not idle long enough yet (activity or a postponement moved the clock);
	// try again after another window.
	return s.Arm(ctx, continuumID)
}
