package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mira-ai/mira/internal/domain/models"
)

// CodeExecution is a placeholder for the provider-hosted code execution
// environment. The definition is forwarded to the provider verbatim; the
// provider runs the sandbox and streams results back, so Execute is never
// reached on the happy path.
type CodeExecution struct{}

func NewCodeExecution() *CodeExecution { return &CodeExecution{} }

func (c *CodeExecution) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "code_execution",
		Description: "Runs Python code in a provider-hosted sandbox.",
	}
}

func (c *CodeExecution) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return "", fmt.Errorf("code_execution runs on the provider side and cannot be executed locally")
}
