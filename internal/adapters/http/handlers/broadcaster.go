package handlers

import (
	"sync"

	"github.com/mira-ai/mira/internal/llm"
)

// Broadcaster fans stream events out to every live connection a user holds.
// Slow consumers are dropped rather than allowed to stall the turn.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

func (b *Broadcaster) Subscribe(userID string) chan []byte {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []byte]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	return ch
}

func (b *Broadcaster) Unsubscribe(userID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[userID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(b.subs, userID)
		}
	}
}

// Publish delivers ev to every subscriber of userID. Non-blocking: a full
// buffer means the frame is skipped for that connection.
func (b *Broadcaster) Publish(userID string, ev llm.StreamEvent) {
	payload := marshalStreamEvent(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
