package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/ports"
)

const domainDocKeyPrefix = "domaindocs:"

// DomainDoc is one labeled knowledge document the user maintains for the
// assistant. Docs are folded into the cached prompt prefix, so they should
// change rarely.
type DomainDoc struct {
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DomainDocsService stores domain-knowledge documents in a per-user KV hash
// keyed by label and renders them into the domaindoc prompt section.
type DomainDocsService struct {
	kv     ports.KVStore
	logger *slog.Logger
	now    func() time.Time
}

func NewDomainDocsService(kv ports.KVStore, logger *slog.Logger) *DomainDocsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainDocsService{
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
}

func domainDocKey(userID string) string {
	return domainDocKeyPrefix + userID
}

// Put creates or replaces the document under the label.
func (s *DomainDocsService) Put(ctx context.Context, userID, label, content string) (*DomainDoc, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	if err := ValidateRequired(label, "document label"); err != nil {
		return nil, err
	}
	if err := ValidateRequired(content, "document content"); err != nil {
		return nil, err
	}

	doc := &DomainDoc{
		Label:     strings.TrimSpace(label),
		Content:   strings.TrimSpace(content),
		UpdatedAt: s.now().UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode domain doc: %w", err)
	}
	if err := s.kv.HSet(ctx, domainDocKey(userID), doc.Label, string(payload)); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns the document under the label, or not found.
func (s *DomainDocsService) Get(ctx context.Context, userID, label string) (*DomainDoc, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	if err := ValidateRequired(label, "document label"); err != nil {
		return nil, err
	}
	raw, err := s.kv.HGet(ctx, domainDocKey(userID), strings.TrimSpace(label))
	if err != nil {
		return nil, err
	}
	var doc DomainDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode domain doc %q: %w", label, err)
	}
	return &doc, nil
}

// List returns all documents sorted by label.
func (s *DomainDocsService) List(ctx context.Context, userID string) ([]*DomainDoc, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	fields, err := s.kv.HGetAll(ctx, domainDocKey(userID))
	if err != nil {
		return nil, err
	}

	docs := make([]*DomainDoc, 0, len(fields))
	for label, raw := range fields {
		var doc DomainDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Warn("skipping unreadable domain doc", "user_id", userID, "label", label, "error", err)
			continue
		}
		docs = append(docs, &doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Label < docs[j].Label })
	return docs, nil
}

// Remove deletes the document under the label. Unknown labels report not
// found.
func (s *DomainDocsService) Remove(ctx context.Context, userID, label string) error {
	if err := ValidateID(userID, "user"); err != nil {
		return err
	}
	if err := ValidateRequired(label, "document label"); err != nil {
		return err
	}
	label = strings.TrimSpace(label)
	if _, err := s.kv.HGet(ctx, domainDocKey(userID), label); err != nil {
		return err
	}
	return s.kv.HDel(ctx, domainDocKey(userID), label)
}

// DomainDoc implements the domaindoc prompt-section source: every document
// under its label heading, in label order.
func (s *DomainDocsService) DomainDoc(ctx context.Context, userID string) (string, error) {
	docs, err := s.List(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", doc.Label, doc.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}
