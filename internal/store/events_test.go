package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func tempEventLog(t *testing.T) *EventLog {
	t.Helper()
	return NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
}

func appendEvent(t *testing.T, l *EventLog, configID uuid.UUID, result string, at time.Time) RingEvent {
	t.Helper()
	ev := RingEvent{
		ID:          uuid.New(),
		ConfigID:    configID,
		Duration:    30,
		TriggerType: "ring",
		Result:      result,
		CreatedAt:   at,
	}
	if err := l.Append(ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return ev
}

func TestEventListNewestFirst(t *testing.T) {
	l := tempEventLog(t)
	id := uuid.New()
	base := time.Now().UTC().Truncate(time.Second)

	first := appendEvent(t, l, id, "answered", base.Add(-2*time.Hour))
	second := appendEvent(t, l, id, "cancelled", base.Add(-time.Hour))
	third := appendEvent(t, l, id, "busy", base)

	events, total, err := l.List(EventFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(events) != 3 {
		t.Fatalf("List returned %d/%d events, want 3/3", len(events), total)
	}
	if events[0].ID != third.ID || events[1].ID != second.ID || events[2].ID != first.ID {
		t.Error("events not ordered newest first")
	}
}

func TestEventListFilters(t *testing.T) {
	l := tempEventLog(t)
	idA, idB := uuid.New(), uuid.New()
	base := time.Now().UTC()

	appendEvent(t, l, idA, "answered", base.Add(-48*time.Hour))
	appendEvent(t, l, idA, "cancelled", base.Add(-time.Hour))
	appendEvent(t, l, idB, "answered", base)

	events, total, err := l.List(EventFilter{ConfigID: &idA})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("config filter matched %d, want 2", total)
	}
	for _, ev := range events {
		if ev.ConfigID != idA {
			t.Errorf("config filter leaked event for %s", ev.ConfigID)
		}
	}

	since := base.Add(-2 * time.Hour)
	if _, total, _ = l.List(EventFilter{Since: &since}); total != 2 {
		t.Errorf("since filter matched %d, want 2", total)
	}
	if _, total, _ = l.List(EventFilter{Result: "answered"}); total != 2 {
		t.Errorf("result filter matched %d, want 2", total)
	}
	if _, total, _ = l.List(EventFilter{TriggerType: "webhook"}); total != 0 {
		t.Errorf("trigger filter matched %d, want 0", total)
	}
}

func TestEventListLimitOffset(t *testing.T) {
	l := tempEventLog(t)
	id := uuid.New()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		appendEvent(t, l, id, "answered", base.Add(time.Duration(i)*time.Minute))
	}

	events, total, err := l.List(EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 || total != 5 {
		t.Errorf("limit: got %d/%d, want 2/5", len(events), total)
	}

	events, total, _ = l.List(EventFilter{Limit: 2, Offset: 4})
	if len(events) != 1 || total != 5 {
		t.Errorf("offset near end: got %d/%d, want 1/5", len(events), total)
	}

	events, total, _ = l.List(EventFilter{Offset: 10})
	if len(events) != 0 || total != 5 {
		t.Errorf("offset past end: got %d/%d, want 0/5", len(events), total)
	}
}

func TestEventLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l := NewEventLog(path)
	appendEvent(t, l, uuid.New(), "answered", time.Now().UTC())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	appendEvent(t, l, uuid.New(), "busy", time.Now().UTC())

	_, total, err := l.List(EventFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("List matched %d events, want 2 with the garbage line skipped", total)
	}
}

func TestEventPrune(t *testing.T) {
	l := tempEventLog(t)
	id := uuid.New()
	base := time.Now().UTC()

	appendEvent(t, l, id, "answered", base.Add(-100*24*time.Hour))
	appendEvent(t, l, id, "cancelled", base.Add(-50*24*time.Hour))
	kept := appendEvent(t, l, id, "busy", base)

	removed, err := l.Prune(base.Add(-60 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}

	events, total, err := l.List(EventFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Fatalf("List matched %d, want 2", total)
	}
	if events[0].ID != kept.ID {
		t.Error("newest event not preserved by prune")
	}

	// No-op prune leaves the file untouched.
	if removed, err := l.Prune(base.Add(-365 * 24 * time.Hour)); err != nil || removed != 0 {
		t.Errorf("no-op Prune = %d, %v", removed, err)
	}
}
