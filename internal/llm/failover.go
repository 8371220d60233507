package llm

import (
	"log/slog"
	"sync"
	"time"
)

// Failover tracks the process-wide emergency rerouting state. When the
// native provider returns an API-level failure, the flag trips and every
// subsequent request is sent to the configured emergency endpoint with
// thinking forced off, until a recovery timer clears the flag and the next
// request probes the native path again.
type Failover struct {
	Endpoint string
	Model    string
	APIKey   string

	mu       sync.Mutex
	active   bool
	recovery time.Duration
	timer    *time.Timer
	logger   *slog.Logger
}

func NewFailover(endpoint, model, apiKey string, recovery time.Duration, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	if recovery <= 0 {
		recovery = 5 * time.Minute
	}
	return &Failover{
		Endpoint: endpoint,
		Model:    model,
		APIKey:   apiKey,
		recovery: recovery,
		logger:   logger,
	}
}

// Available reports whether an emergency endpoint is configured.
func (f *Failover) Available() bool {
	return f != nil && f.Endpoint != "" && f.Model != ""
}

// Active reports whether requests are currently rerouted.
func (f *Failover) Active() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Trip sets the failover flag and (re)schedules recovery.
func (f *Failover) Trip(cause error) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		f.logger.Warn("llm failover tripped",
			"cause", cause,
			"recovery_in", f.recovery)
	}
	f.active = true

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.recovery, f.recover)
}

func (f *Failover) recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.timer = nil
	f.logger.Info("llm failover cleared, next request retries the native path")
}
