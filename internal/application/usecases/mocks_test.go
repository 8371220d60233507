package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/ports"
)

// Mutex-guarded fakes for the orchestrator tests.

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int
	denyAll  bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) AcquireChatLock(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAll || f.held[userID] {
		return "", fmt.Errorf("%w: user %s", domain.ErrTurnInProgress, userID)
	}
	f.held[userID] = true
	f.acquired++
	return "tok_" + userID, nil
}

func (f *fakeLocks) ReleaseChatLock(ctx context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held[userID] {
		return domain.ErrLockNotHeld
	}
	delete(f.held, userID)
	f.released++
	return nil
}

type fakeContinuums struct {
	mu        sync.Mutex
	continuum *models.Continuum
}

func (f *fakeContinuums) Create(ctx context.Context, c *models.Continuum) error { return nil }

func (f *fakeContinuums) GetByID(ctx context.Context, id string) (*models.Continuum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.continuum == nil || f.continuum.ID != id {
		return nil, domain.ErrContinuumNotFound
	}
	return f.continuum, nil
}

func (f *fakeContinuums) GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.continuum == nil {
		f.continuum = models.NewContinuum("mc_test", userID)
	}
	return f.continuum, nil
}

func (f *fakeContinuums) Update(ctx context.Context, c *models.Continuum) error { return nil }

type fakeSegments struct {
	mu        sync.Mutex
	ensured   int
	collapsed int
}

func (f *fakeSegments) EnsureActiveSentinel(ctx context.Context, continuum *models.Continuum) (*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	if continuum.ActiveSentinel() == nil {
		seg := models.NewActiveSegment("mseg_test", continuum.UserID, continuum.ID, time.Now().UTC())
		continuum.Append(models.NewSentinel("mm_sentinel", seg, continuum.NextSequence()))
		return seg, nil
	}
	return &models.Segment{ID: "mseg_test", Status: models.SegmentStatusActive}, nil
}

func (f *fakeSegments) MaybeCollapse(ctx context.Context, continuum *models.Continuum, now time.Time) (bool, error) {
	return false, nil
}

func (f *fakeSegments) CollapseNow(ctx context.Context, continuumID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collapsed++
	return nil
}

func (f *fakeSegments) Postpone(ctx context.Context, continuumID string, d time.Duration) (time.Time, error) {
	return time.Now().Add(d), nil
}

func (f *fakeSegments) Manifest(ctx context.Context, continuumID string, now time.Time) (string, error) {
	return "", nil
}

type fakeSurfacer struct {
	mu     sync.Mutex
	result *ports.SurfacingResult
	err    error
	calls  int
	lastPrevious []*models.SurfacedMemory
}

func (f *fakeSurfacer) Surface(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory, limit int) (*ports.SurfacingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPrevious = previous
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &ports.SurfacingResult{Fingerprint: &ports.Fingerprint{Query: userText}}, nil
	}
	return f.result, nil
}

type fakeEvacuator struct {
	mu         sync.Mutex
	aggressive int
	keep       int
}

func (f *fakeEvacuator) EvacuateIfPressured(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error) {
	return previous, nil
}

func (f *fakeEvacuator) EvacuateAggressive(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggressive++
	keep := f.keep
	if keep <= 0 || keep > len(previous) {
		keep = len(previous)
	}
	return previous[:keep], nil
}

type fakeMemCache struct {
	mu       sync.Mutex
	memories map[string][]*models.SurfacedMemory
	replaced int
}

func newFakeMemCache() *fakeMemCache {
	return &fakeMemCache{memories: make(map[string][]*models.SurfacedMemory)}
}

func (f *fakeMemCache) Memories(userID string) []*models.SurfacedMemory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memories[userID]
}

func (f *fakeMemCache) Replace(userID string, memories []*models.SurfacedMemory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[userID] = memories
	f.replaced++
}

type fakeWorkingMemory struct {
	mu       sync.Mutex
	queue    []*ports.ComposedPrompt
	composes int
}

func (f *fakeWorkingMemory) ComposeNow(ctx context.Context, userID, basePrompt string, trinketCtx map[string]any) (*ports.ComposedPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composes++
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		return next, nil
	}
	return &ports.ComposedPrompt{
		Cached:             "CACHED PROMPT",
		NonCached:          "LIVE PROMPT",
		NotificationCenter: "### Notification Center\n\nnothing new",
	}, nil
}

// fakeEngine scripts one response per call; scripted events are replayed
// through the request callback before the terminal CompleteEvent, matching
// the engine contract.
type fakeEngine struct {
	mu       sync.Mutex
	script   []fakeCall
	requests []*llm.Request
	complete string
}

type fakeCall struct {
	events []llm.StreamEvent
	resp   *llm.Response
	err    error
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Blocks:     []models.ContentBlock{models.TextBlock(text)},
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 120, OutputTokens: 24},
	}
}

func (f *fakeEngine) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var call fakeCall
	if len(f.script) > 0 {
		call = f.script[0]
		f.script = f.script[1:]
	} else {
		call = fakeCall{resp: textResponse("ok")}
	}
	f.mu.Unlock()

	if req.OnEvent != nil {
		for _, ev := range call.events {
			req.OnEvent(ev)
		}
	}
	if call.err != nil {
		return nil, call.err
	}
	if req.OnEvent != nil {
		req.OnEvent(llm.CompleteEvent{Response: call.resp})
	}
	return call.resp, nil
}

func (f *fakeEngine) Complete(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.complete == "" {
		return "NONE", nil
	}
	return f.complete, nil
}

type fakeRegistry struct {
	defs []models.ToolDefinition
}

func (f *fakeRegistry) Definitions() []models.ToolDefinition { return f.defs }

func (f *fakeRegistry) GetDefinition(name string) (models.ToolDefinition, bool) {
	for _, d := range f.defs {
		if d.Name == name {
			return d, true
		}
	}
	return models.ToolDefinition{}, false
}

func (f *fakeRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return "", domain.ErrToolNotFound
}

func (f *fakeRegistry) SchemaHint(name string) string { return "" }

func (f *fakeRegistry) LoadTool(query string) (string, error) { return "", domain.ErrToolNotFound }

type fakeUnitOfWork struct {
	mu         sync.Mutex
	messages   []*models.Message
	continuums []*models.Continuum
	retain     []string
	forget     []string
	commits    int
	commitErr  error
}

func (f *fakeUnitOfWork) RegisterMessage(m *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}

func (f *fakeUnitOfWork) RegisterContinuum(c *models.Continuum) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continuums = append(f.continuums, c)
}

func (f *fakeUnitOfWork) RegisterSegment(s *models.Segment) {}

func (f *fakeUnitOfWork) RegisterVotes(userID string, retain, forget []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retain = append(f.retain, retain...)
	f.forget = append(f.forget, forget...)
}

func (f *fakeUnitOfWork) Commit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits++
	return nil
}

type fakeUoWFactory struct {
	uow *fakeUnitOfWork
}

func (f *fakeUoWFactory) NewUnitOfWork() ports.UnitOfWork { return f.uow }

type fakeKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]string)}
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

func (f *fakeKV) HSet(ctx context.Context, key, field, value string) error   { return nil }
func (f *fakeKV) HGet(ctx context.Context, key, field string) (string, error) {
	return "", domain.ErrNotFound
}
func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeKV) HDel(ctx context.Context, key string, fields ...string) error       { return nil }
func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error    { return nil }
func (f *fakeKV) Scan(ctx context.Context, pattern string) ([]string, error)         { return nil, nil }
func (f *fakeKV) JSONGet(ctx context.Context, key, path string) (string, error) {
	return "", domain.ErrNotFound
}
func (f *fakeKV) JSONSet(ctx context.Context, key, path string, value any) error { return nil }
func (f *fakeKV) TTL(ctx context.Context, key string) (time.Duration, error)     { return 0, nil }
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
	return fmt.Sprintf("%s_%04d", prefix, f.n)
}

func (f *fakeIDs) GenerateContinuumID() string    { return f.next("mc") }
func (f *fakeIDs) GenerateMessageID() string      { return f.next("mm") }
func (f *fakeIDs) GenerateMemoryID() string       { return f.next("mmem") }
func (f *fakeIDs) GenerateSegmentID() string      { return f.next("mseg") }
func (f *fakeIDs) GenerateToolUseID() string      { return f.next("mtu") }
func (f *fakeIDs) GenerateTurnID() string         { return f.next("mt") }
func (f *fakeIDs) GenerateRequestID() string      { return f.next("mreq") }
func (f *fakeIDs) GenerateLockToken() string      { return f.next("mlock") }
func (f *fakeIDs) GenerateRetrievalLogID() string { return f.next("mrl") }
func (f *fakeIDs) GenerateReminderID() string     { return f.next("mrem") }

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	// Deterministic pseudo-vector so unseen texts still embed.
	v := make([]float32, 4)
	for i, c := range []byte(text) {
		v[i%4] += float32(c) / 255
	}
	return v
}

func (f *fakeEmbedder) EncodeRealtime(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EncodeRealtimeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EncodeDeep(ctx context.Context, text string) ([]float32, error) {
	return f.EncodeRealtime(ctx, text)
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

func surfaced(id, content string, score float64) *models.SurfacedMemory {
	return &models.SurfacedMemory{
		Memory:     &models.Memory{ID: id, Content: content, CreatedAt: time.Now().UTC()},
		Score:      score,
		Confidence: models.ConfidenceForScore(score),
		ShortID:    models.ShortID(id),
	}
}
