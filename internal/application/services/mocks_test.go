package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/ports"
)

// Shared fakes for the service tests. All are mutex-guarded so tests may
// exercise concurrent paths.

type fakeKV struct {
	mu      sync.Mutex
	values  map[string]string
	hashes  map[string]map[string]string
	hsetErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		values: make(map[string]string),
		hashes: make(map[string]map[string]string),
	}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeKV) HSet(ctx context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hsetErr != nil {
		return f.hsetErr
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeKV) HGet(ctx context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	if !ok {
		return "", fmt.Errorf("%w: field %s of %s", domain.ErrNotFound, field, key)
	}
	return v, nil
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeKV) HDel(ctx context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeKV) Scan(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeKV) JSONGet(ctx context.Context, key, path string) (string, error) {
	return f.Get(ctx, key)
}

func (f *fakeKV) JSONSet(ctx context.Context, key, path string, value any) error {
	return errors.New("not supported in fake")
}

func (f *fakeKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeKV) SetTTLWithWarning(ctx context.Context, key string, ttl, warningOffset time.Duration) error {
	return nil
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("%s_%d", prefix, f.n)
}

func (f *fakeIDs) GenerateContinuumID() string    { return f.next("mc") }
func (f *fakeIDs) GenerateMessageID() string      { return f.next("mm") }
func (f *fakeIDs) GenerateMemoryID() string       { return f.next("mem") }
func (f *fakeIDs) GenerateSegmentID() string      { return f.next("mseg") }
func (f *fakeIDs) GenerateToolUseID() string      { return f.next("mtu") }
func (f *fakeIDs) GenerateTurnID() string         { return f.next("mt") }
func (f *fakeIDs) GenerateRequestID() string      { return f.next("mreq") }
func (f *fakeIDs) GenerateLockToken() string      { return f.next("mlock") }
func (f *fakeIDs) GenerateRetrievalLogID() string { return f.next("mrl") }
func (f *fakeIDs) GenerateReminderID() string     { return f.next("mrem") }

type fakeEmbedder struct {
	mu       sync.Mutex
	realtime []string
	deep     []string
	vector   []float32
	err      error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
}

func (f *fakeEmbedder) EncodeRealtime(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.realtime = append(f.realtime, text)
	return f.vector, nil
}

func (f *fakeEmbedder) EncodeRealtimeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.EncodeRealtime(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) EncodeDeep(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.deep = append(f.deep, text)
	return f.vector, nil
}

func (f *fakeEmbedder) Dimensions() int { return 768 }

type fakeMemoryRepo struct {
	mu         sync.Mutex
	store      map[string]*models.Memory
	results    []*models.SurfacedMemory
	searchOpts []ports.MemorySearchOptions
	searchErr  error
	touched    [][]string
	touchErr   error
	votes      []appliedVotes
}

type appliedVotes struct {
	userID string
	retain []string
	forget []string
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{store: make(map[string]*models.Memory)}
}

func (f *fakeMemoryRepo) Create(ctx context.Context, memory *models.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[memory.ID] = memory
	return nil
}

func (f *fakeMemoryRepo) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.store[id]; ok {
		return m, nil
	}
	return nil, domain.ErrMemoryNotFound
}

func (f *fakeMemoryRepo) Update(ctx context.Context, memory *models.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[memory.ID] = memory
	return nil
}

func (f *fakeMemoryRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, id)
	return nil
}

func (f *fakeMemoryRepo) SearchHybrid(ctx context.Context, opts ports.MemorySearchOptions) ([]*models.SurfacedMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchOpts = append(f.searchOpts, opts)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]*models.SurfacedMemory, len(f.results))
	for i, r := range f.results {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeMemoryRepo) ResolveShortIDs(ctx context.Context, userID string, shortIDs []string) ([]*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Memory
	for _, m := range f.store {
		for _, sid := range shortIDs {
			if models.ShortID(m.ID) == sid {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *fakeMemoryRepo) ApplyVotes(ctx context.Context, userID string, retain, forget []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, appliedVotes{userID: userID, retain: retain, forget: forget})
	return nil
}

func (f *fakeMemoryRepo) TouchAccess(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, ids)
	return nil
}

func (f *fakeMemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*models.Memory
	for _, m := range f.store {
		if m.UserID == userID {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type fakeRetrievals struct {
	mu      sync.Mutex
	entries []*models.RetrievalLog
	err     error
}

func (f *fakeRetrievals) Log(ctx context.Context, entry *models.RetrievalLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeFingerprints struct {
	mu       sync.Mutex
	fp       *ports.Fingerprint
	err      error
	lastText string
	lastPrev []*models.SurfacedMemory
}

func (f *fakeFingerprints) Generate(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory) (*ports.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = userText
	f.lastPrev = previous
	if f.err != nil {
		return nil, f.err
	}
	return f.fp, nil
}

type fakeEngine struct {
	mu         sync.Mutex
	completion string
	err        error
	prompts    []string
	models     []string
}

func (f *fakeEngine) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeEngine) Complete(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	return f.completion, nil
}

type fakeSegmentRepo struct {
	mu      sync.Mutex
	store   map[string]*models.Segment
	recent  []*models.Segment
	listErr error
}

func newFakeSegmentRepo() *fakeSegmentRepo {
	return &fakeSegmentRepo{store: make(map[string]*models.Segment)}
}

func (f *fakeSegmentRepo) Create(ctx context.Context, segment *models.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[segment.ID] = segment
	return nil
}

func (f *fakeSegmentRepo) GetByID(ctx context.Context, id string) (*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.store[id]; ok {
		return s, nil
	}
	return nil, domain.ErrSegmentNotFound
}

func (f *fakeSegmentRepo) Update(ctx context.Context, segment *models.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[segment.ID]; !ok {
		return domain.ErrSegmentNotFound
	}
	f.store[segment.ID] = segment
	return nil
}

func (f *fakeSegmentRepo) GetActiveByContinuum(ctx context.Context, continuumID string) (*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.store {
		if s.ContinuumID == continuumID && s.Status == models.SegmentStatusActive {
			return s, nil
		}
	}
	return nil, domain.ErrSegmentNotFound
}

func (f *fakeSegmentRepo) ListRecentByContinuum(ctx context.Context, continuumID string, since time.Time) ([]*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.recent, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	store    map[string]*models.Message
	created  []*models.Message
	updated  []*models.Message
	archived []int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{store: make(map[string]*models.Message)}
}

func (f *fakeMessageRepo) Create(ctx context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[message.ID] = message
	f.created = append(f.created, message)
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.store[id]; ok {
		return m, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (f *fakeMessageRepo) Update(ctx context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[message.ID] = message
	f.updated = append(f.updated, message)
	return nil
}

func (f *fakeMessageRepo) GetByContinuum(ctx context.Context, continuumID string) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) GetLatestByContinuum(ctx context.Context, continuumID string, limit int) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) GetNextSequenceNumber(ctx context.Context, continuumID string) (int, error) {
	return 1, nil
}

func (f *fakeMessageRepo) ArchiveThroughSequence(ctx context.Context, continuumID string, throughSequence int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, throughSequence)
	return nil
}

type fakeContinuumRepo struct {
	mu    sync.Mutex
	store map[string]*models.Continuum
}

func newFakeContinuumRepo() *fakeContinuumRepo {
	return &fakeContinuumRepo{store: make(map[string]*models.Continuum)}
}

func (f *fakeContinuumRepo) Create(ctx context.Context, continuum *models.Continuum) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[continuum.ID] = continuum
	return nil
}

func (f *fakeContinuumRepo) GetByID(ctx context.Context, id string) (*models.Continuum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.store[id]; ok {
		return c, nil
	}
	return nil, domain.ErrContinuumNotFound
}

func (f *fakeContinuumRepo) GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.store {
		if c.UserID == userID {
			return c, nil
		}
	}
	c := models.NewContinuum("mc_"+userID, userID)
	f.store[c.ID] = c
	return c, nil
}

func (f *fakeContinuumRepo) Update(ctx context.Context, continuum *models.Continuum) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[continuum.ID] = continuum
	return nil
}

// surfaced builds a search row for tests.
func surfaced(id, content string, score float64, entities ...models.Entity) *models.SurfacedMemory {
	return &models.SurfacedMemory{
		Memory: &models.Memory{
			ID:       id,
			Content:  content,
			Entities: entities,
		},
		Score:      score,
		Confidence: models.ConfidenceForScore(score),
		ShortID:    models.ShortID(id),
	}
}
