package services

import (
	"context"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// entityBoostCoefficient is applied once per fuzzy entity match, scaled
	// by the entity kind weight.
	entityBoostCoefficient = 0.15
	// entityBoostCap bounds the total multiplicative boost for one memory.
	entityBoostCap = 0.3
	// entityMatchThreshold is the minimum string similarity for a fuzzy
	// entity match.
	entityMatchThreshold = 0.85

	// clusterGap is the score distance that separates result clusters.
	clusterGap = 0.15
	// clusterCap bounds how many results one display cluster may hold.
	clusterCap = 4

	defaultSearchLimit = 10
)

// RelevanceService ranks long-term memories for a query: hybrid vector and
// full-text retrieval, entity query-priming, and the clustering rule used
// when results are shown rather than fed to the orchestrator.
type RelevanceService struct {
	memories  ports.MemoryRepository
	embedding ports.EmbeddingService
}

func NewRelevanceService(memories ports.MemoryRepository, embedding ports.EmbeddingService) *RelevanceService {
	return &RelevanceService{
		memories:  memories,
		embedding: embedding,
	}
}

// SearchBoosted runs a hybrid search with a precomputed query embedding and
// applies entity priming to the row scores. Results come back sorted by
// boosted score.
func (s *RelevanceService) SearchBoosted(ctx context.Context, userID, query string, queryEmbedding []float32, entities []models.Entity, limit int) ([]*models.SurfacedMemory, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.memories.SearchHybrid(ctx, ports.MemorySearchOptions{
		UserID:    userID,
		Embedding: queryEmbedding,
		Query:     query,
		Limit:     limit,
	})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrMemorySearchFailed, "hybrid memory search failed")
	}

	applyEntityBoost(results, entities)
	return results, nil
}

// Search embeds the query in realtime mode and runs a boosted hybrid search.
// This is the path tools and the data API use.
func (s *RelevanceService) Search(ctx context.Context, userID, query string, entities []models.Entity, limit int) ([]*models.SurfacedMemory, error) {
	if err := ValidateRequired(query, "search query"); err != nil {
		return nil, err
	}

	embedding, err := s.embedding.EncodeRealtime(ctx, query)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to embed search query")
	}
	return s.SearchBoosted(ctx, userID, query, embedding, entities, limit)
}

// applyEntityBoost multiplies each row score by 1 + boost, where every fuzzy
// entity match contributes the coefficient scaled by its kind weight and the
// total is capped. Confidence is recomputed from the boosted score.
func applyEntityBoost(results []*models.SurfacedMemory, entities []models.Entity) {
	if len(entities) == 0 {
		return
	}
	for _, r := range results {
		boost := 0.0
		for _, queryEntity := range entities {
			if matchesEntity(r.Memory, queryEntity) {
				boost += entityBoostCoefficient * models.EntityWeight(queryEntity.Kind)
			}
		}
		if boost > entityBoostCap {
			boost = entityBoostCap
		}
		if boost > 0 {
			r.EntityBoost = boost
			r.Score *= 1 + boost
			r.Confidence = models.ConfidenceForScore(r.Score)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// matchesEntity reports whether the query entity fuzzily matches one of the
// memory's entities or appears in its content.
func matchesEntity(memory *models.Memory, queryEntity models.Entity) bool {
	needle := strings.ToLower(strings.TrimSpace(queryEntity.Text))
	if needle == "" {
		return false
	}
	for _, e := range memory.Entities {
		if levenshtein.Similarity(strings.ToLower(e.Text), needle, nil) >= entityMatchThreshold {
			return true
		}
	}
	return strings.Contains(strings.ToLower(memory.Content), needle)
}

// ClusterForDisplay applies the display tie-break rule to sorted results: a
// clear leader stands alone, otherwise the cluster of consecutive results
// within the gap of the top is shown, capped, with top-2 as the fallback.
func ClusterForDisplay(results []*models.SurfacedMemory) []*models.SurfacedMemory {
	if len(results) <= 1 {
		return results
	}
	top := results[0].Score
	if top-results[1].Score > clusterGap {
		return results[:1]
	}

	n := 1
	for n < len(results) && n < clusterCap && top-results[n].Score <= clusterGap {
		n++
	}
	if n < 2 {
		n = 2
	}
	return results[:n]
}
