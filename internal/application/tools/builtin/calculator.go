package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mira-ai/mira/internal/domain/models"
)

// Calculator evaluates basic arithmetic expressions.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "calculator",
		Description: "Evaluates mathematical expressions. Supports +, -, *, /, ^ and the functions sqrt, sin, cos, tan, log, ln, abs, ceil, floor.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {
					"type": "string",
					"description": "The expression to evaluate, e.g. '2 + 2' or 'sqrt(16)'"
				}
			},
			"required": ["expression"]
		}`),
	}
}

func (c *Calculator) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse calculator arguments: %w", err)
	}

	result, err := evaluate(input.Expression)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

var unaryFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log10,
	"ln":    math.Log,
	"ceil":  math.Ceil,
	"floor": math.Floor,
}

// evaluate handles one expression by peeling a function call or splitting on
// the lowest-precedence operator and recursing.
func evaluate(expr string) (float64, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}

	for name, fn := range unaryFuncs {
		if strings.HasPrefix(expr, name+"(") && strings.HasSuffix(expr, ")") {
			inner, err := evaluate(expr[len(name)+1 : len(expr)-1])
			if err != nil {
				return 0, err
			}
			return fn(inner), nil
		}
	}

	// Lowest precedence first so the split point becomes the expression root.
	// LastIndex keeps left-to-right evaluation; index zero means a sign, not
	// an operator.
	for _, op := range []byte{'+', '-'} {
		if idx := strings.LastIndexByte(expr, op); idx > 0 {
			left, err := evaluate(expr[:idx])
			if err != nil {
				return 0, err
			}
			right, err := evaluate(expr[idx+1:])
			if err != nil {
				return 0, err
			}
			if op == '+' {
				return left + right, nil
			}
			return left - right, nil
		}
	}

	for _, op := range []byte{'*', '/'} {
		if idx := strings.LastIndexByte(expr, op); idx > 0 {
			left, err := evaluate(expr[:idx])
			if err != nil {
				return 0, err
			}
			right, err := evaluate(expr[idx+1:])
			if err != nil {
				return 0, err
			}
			if op == '*' {
				return left * right, nil
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		}
	}

	if idx := strings.IndexByte(expr, '^'); idx > 0 {
		base, err := evaluate(expr[:idx])
		if err != nil {
			return 0, err
		}
		exp, err := evaluate(expr[idx+1:])
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}

	val, err := strconv.ParseFloat(expr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %s", expr)
	}
	return val, nil
}
