package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventLog is an append-only JSONL file of ring events, newest last.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog creates an event log backed by the given file path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// EventFilter narrows List results. Zero values mean "no filter".
type EventFilter struct {
	ConfigID    *uuid.UUID
	Since       *time.Time
	Result      string
	TriggerType string
	Limit       int
	Offset      int
}

// Append writes one event to the log.
func (l *EventLog) Append(ev RingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *EventLog) readAll() ([]RingEvent, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []RingEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev RingEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			slog.Warn("[Store] skipping malformed event line", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}

// List returns events matching the filter, newest first, plus the total
// number of matches before limit/offset.
func (l *EventLog) List(filter EventFilter) ([]RingEvent, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, 0, err
	}

	matched := make([]RingEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		ev := all[i]
		if filter.ConfigID != nil && ev.ConfigID != *filter.ConfigID {
			continue
		}
		if filter.Since != nil && ev.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Result != "" && ev.Result != filter.Result {
			continue
		}
		if filter.TriggerType != "" && ev.TriggerType != filter.TriggerType {
			continue
		}
		matched = append(matched, ev)
	}

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []RingEvent{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Prune drops events older than the cutoff and returns how many were
// removed. The log is rewritten atomically.
func (l *EventLog) Prune(olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return 0, err
	}
	kept := make([]RingEvent, 0, len(all))
	for _, ev := range all {
		if !ev.CreatedAt.Before(olderThan) {
			kept = append(kept, ev)
		}
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("rewrite event log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, ev := range kept {
		raw, err := json.Marshal(ev)
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("encode event: %w", err)
		}
		w.Write(raw)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return 0, err
	}
	slog.Info("[Store] pruned old events", "removed", removed)
	return removed, nil
}
