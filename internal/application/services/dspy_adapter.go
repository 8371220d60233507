package services

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/dspy-go/pkg/core"

	"github.com/mira-ai/mira/internal/ports"
)

// dspyMaxTokens bounds utility predictions; fingerprints and segment
// summaries are short.
const dspyMaxTokens = 1024

// EngineLM adapts the LLM engine to dspy-go's core.LLM so Predict modules
// can run over it. Predictions go through the utility model with tools
// disabled.
type EngineLM struct {
	engine ports.LLMEngine
	model  string
}

func NewEngineLM(engine ports.LLMEngine, model string) *EngineLM {
	return &EngineLM{engine: engine, model: model}
}

// Generate implements the dspy-go LLM interface.
func (a *EngineLM) Generate(ctx context.Context, prompt string, opts ...core.GenerateOption) (*core.LLMResponse, error) {
	text, err := a.engine.Complete(ctx, a.model, "", prompt, dspyMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("utility completion failed: %w", err)
	}
	return &core.LLMResponse{Content: text}, nil
}

// The prediction modules in this codebase only use Generate. The rest of the
// core.LLM surface is stubbed.

func (a *EngineLM) GenerateWithJSON(ctx context.Context, prompt string, opts ...core.GenerateOption) (map[string]interface{}, error) {
	return nil, fmt.Errorf("GenerateWithJSON not implemented")
}

func (a *EngineLM) GenerateWithFunctions(ctx context.Context, prompt string, functions []map[string]interface{}, opts ...core.GenerateOption) (map[string]interface{}, error) {
	return nil, fmt.Errorf("GenerateWithFunctions not implemented")
}

func (a *EngineLM) CreateEmbedding(ctx context.Context, input string, opts ...core.EmbeddingOption) (*core.EmbeddingResult, error) {
	return nil, fmt.Errorf("CreateEmbedding not implemented: embeddings go through the embedding service")
}

func (a *EngineLM) CreateEmbeddings(ctx context.Context, inputs []string, opts ...core.EmbeddingOption) (*core.BatchEmbeddingResult, error) {
	return nil, fmt.Errorf("CreateEmbeddings not implemented: embeddings go through the embedding service")
}

func (a *EngineLM) StreamGenerate(ctx context.Context, prompt string, opts ...core.GenerateOption) (*core.StreamResponse, error) {
	return nil, fmt.Errorf("StreamGenerate not implemented")
}

func (a *EngineLM) GenerateWithContent(ctx context.Context, content []core.ContentBlock, opts ...core.GenerateOption) (*core.LLMResponse, error) {
	return nil, fmt.Errorf("GenerateWithContent not implemented")
}

func (a *EngineLM) StreamGenerateWithContent(ctx context.Context, content []core.ContentBlock, opts ...core.GenerateOption) (*core.StreamResponse, error) {
	return nil, fmt.Errorf("StreamGenerateWithContent not implemented")
}

func (a *EngineLM) ProviderName() string {
	return "mira"
}

func (a *EngineLM) ModelID() string {
	return a.model
}

func (a *EngineLM) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityChat, core.CapabilityCompletion}
}
