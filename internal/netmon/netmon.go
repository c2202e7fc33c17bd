// Package netmon observes network reachability and reports debounced
// online/offline transitions to subscribers. It is constructed once per
// client session and torn down with Close; it never performs work beyond
// the injected probe and never blocks callers.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe reports whether the server is currently reachable. It must be cheap
// and honor the context deadline; the monitor calls it on every poll tick.
type Probe func(ctx context.Context) bool

// Unsubscribe removes a previously registered listener.
type Unsubscribe = func()

// Options configures a Monitor.
type Options struct {
	// PollInterval is how often the probe runs. Defaults to 5s.
	PollInterval time.Duration
	// StableFor is how long a new reachability reading must hold before a
	// transition is emitted, so a flapping link does not trigger a flush
	// storm. Defaults to 1.5s.
	StableFor time.Duration
	// ProbeTimeout bounds a single probe call. Defaults to 3s.
	ProbeTimeout time.Duration
	// AssumeOnline is the state reported before the first probe completes.
	AssumeOnline bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.StableFor <= 0 {
		out.StableFor = 1500 * time.Millisecond
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 3 * time.Second
	}
	return out
}

// Monitor tracks reachability state and notifies subscribers of debounced
// transitions.
type Monitor struct {
	probe Probe
	opts  Options

	mu        sync.Mutex
	online    bool      // debounced, externally visible state
	candidate bool      // most recent raw reading
	since     time.Time // when the candidate reading first appeared
	subs      map[int]func(online bool)
	nextSub   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. Call Start to begin polling.
func New(probe Probe, opts Options) *Monitor {
	o := opts.withDefaults()
	return &Monitor{
		probe:     probe,
		opts:      o,
		online:    o.AssumeOnline,
		candidate: o.AssumeOnline,
		subs:      make(map[int]func(online bool)),
	}
}

// Start launches the polling loop. It returns immediately.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Close stops polling. Subscribers receive no further notifications.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// IsOnline returns the current debounced reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener for debounced transitions. The listener is
// invoked from the monitor goroutine; it must not block for long.
func (m *Monitor) Subscribe(onChange func(online bool)) Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = onChange
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// CheckNow runs one probe immediately, outside the poll schedule. The
// debounce rule still applies to the reading.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.observe(ctx)
	return m.IsOnline()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.observe(ctx)
		}
	}
}

// observe runs one probe and applies the debounce rule: a raw reading only
// becomes the visible state once it has held for StableFor.
func (m *Monitor) observe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	reading := m.probe(probeCtx)
	cancel()

	now := time.Now()

	m.mu.Lock()
	if reading != m.candidate {
		m.candidate = reading
		m.since = now
	}
	if m.candidate == m.online || now.Sub(m.since) < m.opts.StableFor {
		m.mu.Unlock()
		return
	}

	m.online = m.candidate
	online := m.online
	listeners := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	slog.Debug("connectivity change", "online", online)
	for _, fn := range listeners {
		fn(online)
	}
}
