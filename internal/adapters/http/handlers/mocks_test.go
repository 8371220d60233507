package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/mira-ai/mira/internal/application/services"
	"github.com/mira-ai/mira/internal/application/usecases"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
)

// Hand-written fakes for the handler tests.

type fakeTurnRunner struct {
	mu     sync.Mutex
	inputs []*usecases.ProcessMessageInput
	events []llm.StreamEvent
	out    *usecases.ProcessMessageOutput
	err    error
}

func (f *fakeTurnRunner) Execute(ctx context.Context, input *usecases.ProcessMessageInput) (*usecases.ProcessMessageOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	for _, ev := range f.events {
		if input.OnEvent != nil {
			input.OnEvent(ev)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &usecases.ProcessMessageOutput{
		ContinuumID: "mc_1",
		Response:    "hello there",
	}, nil
}

func (f *fakeTurnRunner) lastInput() *usecases.ProcessMessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

type fakeMemoryManager struct {
	mu      sync.Mutex
	store   map[string]*models.Memory
	created []string
	listErr error
}

func newFakeMemoryManager() *fakeMemoryManager {
	return &fakeMemoryManager{store: make(map[string]*models.Memory)}
}

func (f *fakeMemoryManager) Create(ctx context.Context, userID, content string) (*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "mem_" + content
	m := &models.Memory{ID: id, UserID: userID, Content: content, CreatedAt: time.Now().UTC()}
	f.store[id] = m
	f.created = append(f.created, content)
	return m, nil
}

func (f *fakeMemoryManager) Delete(ctx context.Context, userID, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.store[memoryID]
	if !ok || m.UserID != userID {
		return domain.ErrMemoryNotFound
	}
	delete(f.store, memoryID)
	return nil
}

func (f *fakeMemoryManager) List(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var all []*models.Memory
	for _, m := range f.store {
		if m.UserID == userID {
			all = append(all, m)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type fakeSegmentController struct {
	mu        sync.Mutex
	collapsed []string
	postponed time.Duration
	manifest  string
	err       error
}

func (f *fakeSegmentController) CollapseNow(ctx context.Context, continuumID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.collapsed = append(f.collapsed, continuumID)
	return nil
}

func (f *fakeSegmentController) Postpone(ctx context.Context, continuumID string, d time.Duration) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	f.postponed = d
	return time.Now().UTC().Add(d), nil
}

func (f *fakeSegmentController) Manifest(ctx context.Context, continuumID string, now time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.manifest, nil
}

type fakeContinuumReader struct {
	continuum *models.Continuum
	err       error
}

func (f *fakeContinuumReader) GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.continuum == nil {
		f.continuum = models.NewContinuum("mc_1", userID)
	}
	return f.continuum, nil
}

type fakeMessageReader struct {
	messages []*models.Message
	err      error
}

func (f *fakeMessageReader) GetByContinuum(ctx context.Context, continuumID string) ([]*models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeReminderStore struct {
	mu        sync.Mutex
	reminders map[string]*services.Reminder
	n         int
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{reminders: make(map[string]*services.Reminder)}
}

func (f *fakeReminderStore) Add(ctx context.Context, userID, text string, remindAt *time.Time) (*services.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	r := &services.Reminder{ID: "rem_1", Text: text, RemindAt: remindAt, CreatedAt: time.Now().UTC()}
	f.reminders[r.ID] = r
	return r, nil
}

func (f *fakeReminderStore) List(ctx context.Context, userID string) ([]*services.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*services.Reminder
	for _, r := range f.reminders {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReminderStore) Remove(ctx context.Context, userID, reminderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reminders[reminderID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.reminders, reminderID)
	return nil
}

type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string]*services.DomainDoc
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]*services.DomainDoc)}
}

func (f *fakeDocStore) Put(ctx context.Context, userID, label, content string) (*services.DomainDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &services.DomainDoc{Label: label, Content: content, UpdatedAt: time.Now().UTC()}
	f.docs[label] = d
	return d, nil
}

func (f *fakeDocStore) List(ctx context.Context, userID string) ([]*services.DomainDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*services.DomainDoc
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDocStore) Remove(ctx context.Context, userID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[label]; !ok {
		return domain.ErrNotFound
	}
	delete(f.docs, label)
	return nil
}

// fakeKV covers the KVStore surface the data handler touches.
type fakeKV struct {
	mu     sync.Mutex
	values map[string]string
	hashes map[string]map[string]string
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
		return "", domain.ErrNotFound
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
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeKV) HGet(ctx context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.hashes[key]; ok {
		if v, ok := h[field]; ok {
			return v, nil
		}
	}
	return "", domain.ErrNotFound
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
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

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (f *fakeKV) Scan(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

func (f *fakeKV) JSONGet(ctx context.Context, key, path string) (string, error) {
	return f.Get(ctx, key)
}

func (f *fakeKV) JSONSet(ctx context.Context, key, path string, value any) error { return nil }

func (f *fakeKV) TTL(ctx context.Context, key string) (time.Duration, error) { return 0, nil }

func (f *fakeKV) SetTTLWithWarning(ctx context.Context, key string, ttl, warningOffset time.Duration) error {
	return nil
}
