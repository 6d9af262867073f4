// Package registry is the process-wide coordinator for ring attempts.
// It enforces at most one live attempt per configuration, launches each
// attempt as its own goroutine, and relays the terminal result to the
// status sink. Insertion into and removal from the live set happen
// under the same mutex, so two triggers can never both observe "not
// active" and both start.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/sipring/internal/engine"
	"github.com/sebas/sipring/internal/metrics"
)

// StatusSink receives the terminal result of each attempt. Failures are
// logged and never affect the result already computed.
type StatusSink interface {
	Record(configID uuid.UUID, result engine.Result, at time.Time) error
}

// ringer is the slice of the engine the registry drives. Narrow on
// purpose: it doubles as the test seam.
type ringer interface {
	Ring(duration time.Duration) engine.Result
	RequestCancel()
}

type activeRing struct {
	eng       ringer
	startedAt time.Time
	done      chan struct{}

	mu     sync.Mutex
	state  string
	result engine.Result
}

func (a *activeRing) setState(state string) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

func (a *activeRing) getState() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Registry tracks live ring attempts by configuration ID.
type Registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]*activeRing

	sink StatusSink

	// newRinger builds the engine for an attempt; swapped out in tests.
	newRinger func(params engine.Params, onState func(string)) ringer
}

// New creates a registry. resolver is shared by all engines it builds.
func New(sink StatusSink, resolver *engine.AddrResolver) *Registry {
	r := &Registry{
		active: make(map[uuid.UUID]*activeRing),
		sink:   sink,
	}
	r.newRinger = func(params engine.Params, onState func(string)) ringer {
		return engine.New(params, resolver, onState)
	}
	return r
}

// StartRing launches a ring attempt for the configuration. It returns
// false without side effects if an attempt is already live for that ID.
// onStart, if non-nil, runs under the registry lock right after the
// attempt is registered, so trigger context recorded there is atomic
// with the insertion: a losing concurrent trigger can never touch it.
func (r *Registry) StartRing(id uuid.UUID, params engine.Params, duration time.Duration, onStart func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		slog.Warn("[Registry] ring already active", "config_id", id)
		return false
	}

	ar := &activeRing{
		startedAt: time.Now(),
		state:     "starting",
		done:      make(chan struct{}),
	}
	ar.eng = r.newRinger(params, ar.setState)
	r.active[id] = ar
	if onStart != nil {
		onStart()
	}
	metrics.ActiveRings.Inc()

	go r.run(id, ar, duration)

	slog.Info("[Registry] ring started", "config_id", id, "duration", duration)
	return true
}

// run executes the attempt, reports the result, and removes the entry
// from the live set under the same mutex used to insert it.
func (r *Registry) run(id uuid.UUID, ar *activeRing, duration time.Duration) {
	result := ar.eng.Ring(duration)

	if r.sink != nil {
		if err := r.sink.Record(id, result, time.Now().UTC()); err != nil {
			slog.Error("[Registry] failed to record ring result", "config_id", id, "error", err)
		}
	}

	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()

	metrics.ActiveRings.Dec()
	metrics.RingAttempts.WithLabelValues(string(result)).Inc()
	metrics.RingDuration.Observe(time.Since(ar.startedAt).Seconds())

	ar.mu.Lock()
	ar.result = result
	ar.mu.Unlock()
	close(ar.done)

	slog.Info("[Registry] ring completed", "config_id", id, "result", result)
}

// CancelRing requests cancellation of a live attempt. It returns
// immediately: cancellation is requested, not confirmed.
func (r *Registry) CancelRing(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ar, ok := r.active[id]
	if !ok {
		slog.Warn("[Registry] no active ring to cancel", "config_id", id)
		return false
	}
	ar.eng.RequestCancel()
	slog.Info("[Registry] cancellation requested", "config_id", id)
	return true
}

// IsActive reports whether an attempt is live for the configuration.
func (r *Registry) IsActive(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// State returns the last observed call state of a live attempt.
func (r *Registry) State(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	ar, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	return ar.getState(), true
}

// ActiveCalls returns a snapshot of all live attempts and their states.
func (r *Registry) ActiveCalls() map[uuid.UUID]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make(map[uuid.UUID]string, len(r.active))
	for id, ar := range r.active {
		calls[id] = ar.getState()
	}
	return calls
}

// WaitForCompletion blocks until the attempt finishes or the timeout
// elapses. On timeout it returns false and the attempt keeps running.
// Returns false immediately if no attempt is live.
func (r *Registry) WaitForCompletion(id uuid.UUID, timeout time.Duration) (engine.Result, bool) {
	r.mu.Lock()
	ar, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	select {
	case <-ar.done:
		ar.mu.Lock()
		defer ar.mu.Unlock()
		return ar.result, true
	case <-time.After(timeout):
		return "", false
	}
}
