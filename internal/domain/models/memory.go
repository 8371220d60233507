package models

import (
	"time"
)

// EntityKind classifies a named entity attached to a memory. Kinds carry
// fixed retrieval weights; unknown kinds fall back to a default.
type EntityKind string

const (
	EntityPerson EntityKind = "PERSON"
	EntityEvent  EntityKind = "EVENT"
	EntityOrg    EntityKind = "ORG"
)

// EntityWeight returns the retrieval weight for a kind.
func EntityWeight(kind EntityKind) float64 {
	switch kind {
	case EntityPerson:
		return 1.0
	case EntityEvent:
		return 0.9
	case EntityOrg:
		return 0.8
	default:
		return 0.5
	}
}

type Entity struct {
	Text string     `json:"text"`
	Kind EntityKind `json:"kind"`
}

// Memory is one long-term memory row.
type Memory struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Content         string     `json:"content"`
	ImportanceScore float64    `json:"importance_score"`
	Entities        []Entity   `json:"entities,omitempty"`
	LinkedMemories  []string   `json:"linked_memories,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	HappensAt       *time.Time `json:"happens_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	AccessCount     int        `json:"access_count"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`
	RetainVotes     int        `json:"retain_votes"`
	ForgetVotes     int        `json:"forget_votes"`
	Embedding       []float32  `json:"-"`
}

// Confidence tiers for downstream display.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func ConfidenceForScore(score float64) Confidence {
	switch {
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SurfacedMemory is a memory selected for a turn, with its retrieval scores
// and the pinned 8-hex short id the model votes with.
type SurfacedMemory struct {
	Memory      *Memory    `json:"memory"`
	Score       float64    `json:"score"`
	VectorScore float64    `json:"vector_score"`
	TextScore   float64    `json:"text_score"`
	EntityBoost float64    `json:"entity_boost"`
	Confidence  Confidence `json:"confidence"`
	Pinned      bool       `json:"pinned"`
	ShortID     string     `json:"short_id"`
}

// ShortID returns the first 8 hex characters of a memory id, the form the
// model references memories by.
func ShortID(memoryID string) string {
	clean := make([]byte, 0, 8)
	for i := 0; i < len(memoryID) && len(clean) < 8; i++ {
		c := memoryID[i]
		if c == '-' {
			continue
		}
		clean = append(clean, c)
	}
	return string(clean)
}

// RetrievalLog records one surfacing decision for offline evaluation.
type RetrievalLog struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	ContinuumID string             `json:"continuum_id"`
	UserText    string             `json:"user_text"`
	Fingerprint string             `json:"fingerprint"`
	MemoryIDs   []string           `json:"memory_ids"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
