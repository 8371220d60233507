package workingmemory

import (
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
)

// Context keys the orchestrator populates when it triggers a compose cycle.
const (
	ContextKeyContinuum     = "continuum"
	ContextKeyMemories      = "memories"
	ContextKeyNow           = "now"
	ContextKeyUserName      = "user_name"
	ContextKeySearchResults = "search_results"
)

// Context carries the per-turn inputs trinkets render from. Values are
// loosely typed because the map travels inside bus events; the getters
// return zero values for missing or mistyped entries.
type Context map[string]any

func (c Context) Continuum() *models.Continuum {
	v, _ := c[ContextKeyContinuum].(*models.Continuum)
	return v
}

func (c Context) Memories() ([]*models.SurfacedMemory, bool) {
	v, ok := c[ContextKeyMemories].([]*models.SurfacedMemory)
	return v, ok
}

func (c Context) Now() time.Time {
	v, _ := c[ContextKeyNow].(time.Time)
	return v
}

func (c Context) UserName() string {
	v, _ := c[ContextKeyUserName].(string)
	return v
}

func (c Context) SearchResults() ([]string, bool) {
	v, ok := c[ContextKeySearchResults].([]string)
	return v, ok
}
