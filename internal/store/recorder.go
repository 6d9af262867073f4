package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/sipring/internal/engine"
)

// RingRecorder is the status sink handed to the registry. The API layer
// tracks a pending event when it triggers a ring; when the attempt
// finishes, Record completes the event and updates the configuration's
// last ring status.
type RingRecorder struct {
	store  *Store
	events *EventLog

	mu      sync.Mutex
	pending map[uuid.UUID]RingEvent
}

// NewRingRecorder creates a recorder writing to the given store and log.
func NewRingRecorder(store *Store, events *EventLog) *RingRecorder {
	return &RingRecorder{
		store:   store,
		events:  events,
		pending: make(map[uuid.UUID]RingEvent),
	}
}

// Track registers the trigger context (source, duration) for an attempt
// that has just been registered as live. Callers must invoke it from the
// registry's start section so a losing concurrent trigger cannot
// overwrite the live attempt's context.
func (r *RingRecorder) Track(ev RingEvent) {
	r.mu.Lock()
	r.pending[ev.ConfigID] = ev
	r.mu.Unlock()
}

// Record implements registry.StatusSink. It updates the config's last
// ring status and appends the completed event to the log.
func (r *RingRecorder) Record(configID uuid.UUID, result engine.Result, at time.Time) error {
	statusErr := r.store.UpdateRingStatus(configID, string(result), at)
	if errors.Is(statusErr, ErrNotFound) {
		// Config deleted mid-ring; the event below still records the outcome.
		statusErr = nil
	}

	r.mu.Lock()
	ev, ok := r.pending[configID]
	delete(r.pending, configID)
	r.mu.Unlock()

	if !ok {
		ev = RingEvent{
			ID:          uuid.New(),
			ConfigID:    configID,
			TriggerType: "ring",
			CreatedAt:   at,
		}
	}
	ev.Result = string(result)
	ev.CompletedAt = &at

	if err := r.events.Append(ev); err != nil {
		return err
	}
	return statusErr
}
