package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

const defaultFreshLimit = 20

// SurfacingService runs the per-turn memory selection: fingerprint the turn,
// pin what the model voted to keep, retrieve fresh candidates against the
// fingerprint, and merge pinned-first. Retention votes are returned with the
// fingerprint; the orchestrator commits them with the turn.
type SurfacingService struct {
	fingerprints ports.FingerprintGenerator
	relevance    *RelevanceService
	memories     ports.MemoryRepository
	retrievals   ports.RetrievalLogRepository
	embedding    ports.EmbeddingService
	ids          ports.IDGenerator
	logger       *slog.Logger
	now          func() time.Time
}

func NewSurfacingService(
	fingerprints ports.FingerprintGenerator,
	relevance *RelevanceService,
	memories ports.MemoryRepository,
	retrievals ports.RetrievalLogRepository,
	embedding ports.EmbeddingService,
	ids ports.IDGenerator,
	logger *slog.Logger,
) *SurfacingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurfacingService{
		fingerprints: fingerprints,
		relevance:    relevance,
		memories:     memories,
		retrievals:   retrievals,
		embedding:    embedding,
		ids:          ids,
		logger:       logger,
		now:          time.Now,
	}
}

// Surface implements ports.MemorySurfacer. A fingerprint failure aborts the
// turn; retrieval logging and access touching are best effort.
func (s *SurfacingService) Surface(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory, limit int) (*ports.SurfacingResult, error) {
	if limit <= 0 {
		limit = defaultFreshLimit
	}

	fp, err := s.fingerprints.Generate(ctx, continuum, userText, previous)
	if err != nil {
		return nil, err
	}

	pinned := pinPrevious(previous, fp.PinnedShortIDs)

	queryEmbedding, err := s.embedding.EncodeRealtime(ctx, fp.Query)
	if err != nil {
		return nil, err
	}

	fresh, err := s.relevance.SearchBoosted(ctx, continuum.UserID, fp.Query, queryEmbedding, fp.Entities, limit)
	if err != nil {
		return nil, err
	}

	merged := mergePinnedFirst(pinned, fresh)

	s.logRetrieval(ctx, continuum, userText, fp, merged)
	s.touchAccess(ctx, merged)

	return &ports.SurfacingResult{Memories: merged, Fingerprint: fp}, nil
}

// pinPrevious keeps the previously surfaced memories whose short ID got a
// checked vote. The entries are copied so the trinket's cached list is not
// mutated in place.
func pinPrevious(previous []*models.SurfacedMemory, pinnedShortIDs []string) []*models.SurfacedMemory {
	if len(pinnedShortIDs) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(pinnedShortIDs))
	for _, id := range pinnedShortIDs {
		wanted[id] = true
	}

	var pinned []*models.SurfacedMemory
	for _, m := range previous {
		if !wanted[models.ShortID(m.Memory.ID)] {
			continue
		}
		keep := *m
		keep.Pinned = true
		pinned = append(pinned, &keep)
	}
	return pinned
}

// mergePinnedFirst concatenates pinned then fresh, dropping fresh rows whose
// memory is already pinned.
func mergePinnedFirst(pinned, fresh []*models.SurfacedMemory) []*models.SurfacedMemory {
	merged := make([]*models.SurfacedMemory, 0, len(pinned)+len(fresh))
	seen := make(map[string]bool, len(pinned))
	for _, m := range pinned {
		merged = append(merged, m)
		seen[m.Memory.ID] = true
	}
	for _, m := range fresh {
		if seen[m.Memory.ID] {
			continue
		}
		merged = append(merged, m)
		seen[m.Memory.ID] = true
	}
	return merged
}

func (s *SurfacingService) logRetrieval(ctx context.Context, continuum *models.Continuum, userText string, fp *ports.Fingerprint, merged []*models.SurfacedMemory) {
	ids := make([]string, len(merged))
	scores := make(map[string]float64, len(merged))
	for i, m := range merged {
		ids[i] = m.Memory.ID
		scores[m.Memory.ID] = m.Score
	}

	entry := &models.RetrievalLog{
		ID:          s.ids.GenerateRetrievalLogID(),
		UserID:      continuum.UserID,
		ContinuumID: continuum.ID,
		UserText:    clip(userText, 500),
		Fingerprint: fp.Query,
		MemoryIDs:   ids,
		Scores:      scores,
		CreatedAt:   s.now(),
	}
	if err := s.retrievals.Log(ctx, entry); err != nil {
		s.logger.Warn("retrieval log write failed", "continuum_id", continuum.ID, "error", err)
	}
}

func (s *SurfacingService) touchAccess(ctx context.Context, merged []*models.SurfacedMemory) {
	if len(merged) == 0 {
		return
	}
	ids := make([]string, len(merged))
	for i, m := range merged {
		ids[i] = m.Memory.ID
	}
	if err := s.memories.TouchAccess(ctx, ids); err != nil {
		s.logger.Warn("memory access touch failed", "count", len(ids), "error", err)
	}
}
