package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

const defaultMemoryQueryLimit = 10

// MemoryQuery searches the long-term memory store for the current user.
type MemoryQuery struct {
	memories   ports.MemoryRepository
	embeddings ports.EmbeddingService
}

func NewMemoryQuery(memories ports.MemoryRepository, embeddings ports.EmbeddingService) *MemoryQuery {
	return &MemoryQuery{memories: memories, embeddings: embeddings}
}

func (m *MemoryQuery) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "memory_query",
		Description: "Searches long-term memory for facts about the user and past conversations. Use full questions or descriptive phrases as the query.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "What to search for"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum number of memories to return, default 10"
				}
			},
			"required": ["query"]
		}`),
	}
}

func (m *MemoryQuery) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse memory query arguments: %w", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return "", fmt.Errorf("%w: query is required", domain.ErrInvalidToolArgs)
	}
	if input.Limit <= 0 {
		input.Limit = defaultMemoryQueryLimit
	}

	userID := domain.UserIDFrom(ctx)
	if userID == "" {
		return "", fmt.Errorf("memory query: no user in context")
	}

	embedding, err := m.embeddings.EncodeRealtime(ctx, input.Query)
	if err != nil {
		return "", fmt.Errorf("encode memory query: %w", err)
	}

	results, err := m.memories.SearchHybrid(ctx, ports.MemorySearchOptions{
		UserID:    userID,
		Embedding: embedding,
		Query:     input.Query,
		Limit:     input.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(results) == 0 {
		return "No memories matched that query.", nil
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "- [%s] (%s) %s\n", r.ShortID, r.Confidence, r.Memory.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
