// Package builtin provides the tools every continuum starts with.
package builtin

import (
	"fmt"

	"github.com/mira-ai/mira/internal/application/tools"
	"github.com/mira-ai/mira/internal/ports"
)

// RegisterAll wires the builtin tools into the registry. The code execution
// tool starts deferred; the loader tool enables it on demand.
func RegisterAll(registry *tools.Registry, memories ports.MemoryRepository, embeddings ports.EmbeddingService) error {
	if err := registry.Register(NewCalculator()); err != nil {
		return fmt.Errorf("register calculator: %w", err)
	}
	if err := registry.Register(NewDateTime()); err != nil {
		return fmt.Errorf("register datetime: %w", err)
	}
	if memories != nil && embeddings != nil {
		if err := registry.Register(NewMemoryQuery(memories, embeddings)); err != nil {
			return fmt.Errorf("register memory query: %w", err)
		}
	}
	if err := registry.Register(NewLoaderTool(registry)); err != nil {
		return fmt.Errorf("register tool loader: %w", err)
	}
	if err := registry.RegisterDeferred(NewCodeExecution()); err != nil {
		return fmt.Errorf("register code execution: %w", err)
	}
	return nil
}
