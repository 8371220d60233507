package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

// MemoriesService is the administrative surface over long-term memories:
// manual creation, deletion and listing. Surfacing and voting run through the
// turn pipeline, not through here.
type MemoriesService struct {
	memories ports.MemoryRepository
	embedder ports.EmbeddingService
	ids      ports.IDGenerator
	logger   *slog.Logger
}

func NewMemoriesService(
	memories ports.MemoryRepository,
	embedder ports.EmbeddingService,
	ids ports.IDGenerator,
	logger *slog.Logger,
) *MemoriesService {
	return &MemoriesService{
		memories: memories,
		embedder: embedder,
		ids:      ids,
		logger:   logger,
	}
}

// Create stores a new memory with a deep-tier embedding. Manually created
// memories start at neutral importance.
func (s *MemoriesService) Create(ctx context.Context, userID, content string) (*models.Memory, error) {
	if content == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "memory content cannot be empty")
	}

	embedding, err := s.embedder.EncodeDeep(ctx, content)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrEmbeddingsFailed, "failed to embed memory content")
	}

	memory := &models.Memory{
		ID:              s.ids.GenerateMemoryID(),
		UserID:          userID,
		Content:         content,
		ImportanceScore: 0.5,
		CreatedAt:       time.Now().UTC(),
		Embedding:       embedding,
	}

	if err := s.memories.Create(ctx, memory); err != nil {
		return nil, domain.NewDomainError(err, "failed to create memory")
	}

	s.logger.Info("memory created", "memory_id", memory.ID, "user_id", userID)
	return memory, nil
}

// Delete removes a memory after verifying ownership. A memory belonging to
// another user reads as absent.
func (s *MemoriesService) Delete(ctx context.Context, userID, memoryID string) error {
	memory, err := s.memories.GetByID(ctx, memoryID)
	if err != nil {
		return err
	}
	if memory.UserID != userID {
		return domain.ErrMemoryNotFound
	}

	if err := s.memories.Delete(ctx, memoryID); err != nil {
		return domain.NewDomainError(err, "failed to delete memory")
	}

	s.logger.Info("memory deleted", "memory_id", memoryID, "user_id", userID)
	return nil
}

// List pages through a user's memories, newest first.
func (s *MemoriesService) List(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.memories.ListByUser(ctx, userID, limit, offset)
}
