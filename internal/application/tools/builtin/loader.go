package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
)

// ToolLoader resolves a tool name or description fragment to a registered
// tool, enabling it if it was deferred. Returns the canonical tool name.
type ToolLoader interface {
	LoadTool(query string) (string, error)
}

// LoaderTool is the escape hatch the model reaches for when it wants a tool
// that is not currently in its tool list. Generic endpoints also synthesize
// calls to it when the model hallucinates an unavailable tool name.
type LoaderTool struct {
	loader ToolLoader
}

func NewLoaderTool(loader ToolLoader) *LoaderTool {
	return &LoaderTool{loader: loader}
}

func (l *LoaderTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        llm.LoaderToolName,
		Description: "Loads a tool that is not currently available. Use mode 'load' with the tool name or a description of what you need. Use mode 'prepare_code_execution' before running code.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"mode": {
					"type": "string",
					"enum": ["load", "fallback", "prepare_code_execution"],
					"description": "load: enable a tool by name or description. fallback: the previously requested tool was unavailable. prepare_code_execution: enable the code execution environment."
				},
				"query": {
					"type": "string",
					"description": "The tool name or a short description of the capability needed"
				}
			},
			"required": ["mode"]
		}`),
	}
}

func (l *LoaderTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Mode  string `json:"mode"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse loader arguments: %w", err)
	}

	switch input.Mode {
	case "load":
		name, err := l.loader.LoadTool(input.Query)
		if err != nil {
			return "", fmt.Errorf("load tool %q: %w", input.Query, err)
		}
		return fmt.Sprintf("Tool %q is now loaded and available.", name), nil
	case "fallback":
		name, err := l.loader.LoadTool(input.Query)
		if err != nil {
			return fmt.Sprintf("No tool matching %q exists. Answer with your own knowledge instead.", input.Query), nil
		}
		return fmt.Sprintf("The closest available tool is %q; it is now loaded.", name), nil
	case "prepare_code_execution":
		name, err := l.loader.LoadTool("code_execution")
		if err != nil {
			return "", fmt.Errorf("prepare code execution: %w", err)
		}
		return fmt.Sprintf("Tool %q is now loaded and available.", name), nil
	default:
		return "", fmt.Errorf("unknown mode %q; expected load, fallback or prepare_code_execution", input.Mode)
	}
}
