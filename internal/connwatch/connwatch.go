// Package connwatch tracks whether the providers a question depends on
// (the reasoner, mainly) are reachable.
//
// This is distinct from httpkit's transport-level retry, which absorbs
// sub-second dial errors inside one call. connwatch covers outages
// measured in seconds to minutes: a local model server restarting, an
// expired API key, a network partition. Each watched dependency is
// probed right away, then retried with exponential backoff while down
// and polled at a steady interval while up. Every state change is
// logged and published on the event bus.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/sundevil-helper/internal/events"
)

// Probe checks whether a dependency is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Backoff controls probe timing. Zero fields take the defaults from
// [DefaultBackoff].
type Backoff struct {
	// Initial is the first retry delay while down.
	Initial time.Duration
	// Max caps the retry delay while down.
	Max time.Duration
	// Poll is the check interval while up.
	Poll time.Duration
	// Timeout bounds each probe call.
	Timeout time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... capped at 60s, and polls a
// healthy dependency every 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 2 * time.Second,
		Max:     60 * time.Second,
		Poll:    60 * time.Second,
		Timeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is one dependency's health, as served by the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor watches any number of dependencies.
type Monitor struct {
	bus    *events.Bus
	logger *slog.Logger
	wg     sync.WaitGroup

	mu   sync.RWMutex
	deps map[string]*Status
}

// NewMonitor creates a monitor. bus may be nil.
func NewMonitor(bus *events.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		bus:    bus,
		logger: logger,
		deps:   make(map[string]*Status),
	}
}

// Watch starts probing name in the background until ctx is done. A
// dependency is reported not ready until its first probe succeeds.
// Watching a name twice panics.
func (m *Monitor) Watch(ctx context.Context, name string, probe Probe, b Backoff) {
	if name == "" || probe == nil {
		panic("connwatch: Watch needs a name and a probe")
	}

	m.mu.Lock()
	if _, dup := m.deps[name]; dup {
		m.mu.Unlock()
		panic("connwatch: " + name + " is already watched")
	}
	m.deps[name] = &Status{Name: name}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, name, probe, b.withDefaults())
	}()
}

// Wait blocks until every watcher has exited.
func (m *Monitor) Wait() { m.wg.Wait() }

// Status returns every dependency's health, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.deps))
	for _, s := range m.deps {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched dependency is up.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.deps {
		if !s.Ready {
			return false
		}
	}
	return true
}

func (m *Monitor) run(ctx context.Context, name string, probe Probe, b Backoff) {
	delay := b.Initial
	first := true

	for {
		err := m.probe(ctx, probe, b.Timeout)
		if ctx.Err() != nil {
			return
		}
		m.record(name, err, first)
		first = false

		wait := b.Poll
		if err != nil {
			wait = delay
			delay *= 2
			if delay > b.Max {
				delay = b.Max
			}
		} else {
			delay = b.Initial
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context, probe Probe, timeout time.Duration) error {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probe(pctx)
}

// record stores a probe result and announces transitions. The first
// result is always announced.
func (m *Monitor) record(name string, err error, first bool) {
	m.mu.Lock()
	s := m.deps[name]
	was := s.Ready
	s.Ready = err == nil
	s.LastCheck = time.Now()
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	changed := first || was != s.Ready
	m.mu.Unlock()

	if !changed {
		if err != nil {
			m.logger.Debug("dependency still unreachable", "dependency", name, "error", err)
		}
		return
	}

	data := map[string]any{"name": name, "ready": err == nil}
	if err != nil {
		data["error"] = err.Error()
		m.logger.Warn("dependency unreachable", "dependency", name, "error", err)
	} else {
		m.logger.Info("dependency ready", "dependency", name)
	}
	m.bus.Emit(events.SourceHealth, events.KindDependencyState, data)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
