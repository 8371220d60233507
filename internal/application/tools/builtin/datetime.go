package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
)

// DateTime reports the current date and time, optionally in a named timezone.
type DateTime struct {
	now func() time.Time
}

func NewDateTime() *DateTime {
	return &DateTime{now: time.Now}
}

func (d *DateTime) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "get_datetime",
		Description: "Returns the current date and time. Accepts an optional IANA timezone name such as 'Europe/Berlin'.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {
					"type": "string",
					"description": "IANA timezone name; defaults to UTC"
				}
			}
		}`),
	}
}

func (d *DateTime) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return "", fmt.Errorf("parse datetime arguments: %w", err)
		}
	}

	loc := time.UTC
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return "", fmt.Errorf("invalid timezone %q: %w", input.Timezone, err)
		}
	}

	return d.now().In(loc).Format("Monday, January 2, 2006 at 15:04:05 MST"), nil
}
