package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const hexAlphabet = "0123456789abcdef"

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateContinuumID() string {
	return g.generate("mc")
}

func (g *Generator) GenerateMessageID() string {
	return g.generate("mm")
}

// GenerateMemoryID mints a 32-char hex id. Memories are referenced by their
// first 8 characters in model output, so the id carries no prefix.
func (g *Generator) GenerateMemoryID() string {
	id, err := gonanoid.Generate(hexAlphabet, 32)
	if err != nil {
		return "00000000deadbeef00000000deadbeef"
	}
	return id
}

func (g *Generator) GenerateSegmentID() string {
	return g.generate("mseg")
}

func (g *Generator) GenerateToolUseID() string {
	return g.generate("mtu")
}

func (g *Generator) GenerateTurnID() string {
	return g.generate("mt")
}

func (g *Generator) GenerateRequestID() string {
	return g.generate("mreq")
}

func (g *Generator) GenerateLockToken() string {
	return g.generate("mlock")
}

func (g *Generator) GenerateRetrievalLogID() string {
	return g.generate("mrl")
}

func (g *Generator) GenerateReminderID() string {
	return g.generate("mrem")
}
