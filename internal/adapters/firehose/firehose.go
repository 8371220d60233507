package firehose

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Writer appends every observed event as one JSON line to a local file. It is
// a debugging sink: write failures are logged and swallowed, never surfaced
// to the turn.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	logger *slog.Logger
	now    func() time.Time
}

type record struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
}

func New(path string, logger *slog.Logger) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:   file,
		enc:    json.NewEncoder(file),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (w *Writer) Write(event string, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if err := w.enc.Encode(record{
		Timestamp: w.now().UTC(),
		Event:     event,
		Payload:   payload,
	}); err != nil {
		w.logger.Warn("firehose write failed", "event", event, "error", err)
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Nop discards everything, used when the firehose is disabled.
type Nop struct{}

func (Nop) Write(event string, payload any) {}

func (Nop) Close() error { return nil }
