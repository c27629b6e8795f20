package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

// Memory is an in-process backend. It backs tests and dry runs; the
// exported knobs inject failures.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry

	// Deny makes RequestAccess answer false.
	Deny bool
	// AccessDelay blocks RequestAccess, honoring ctx.
	AccessDelay time.Duration
	// CreateErr and UpdateErr fail the respective writes when set.
	CreateErr error
	UpdateErr error

	Creates int
	Updates int
	Removes int
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Add stores an entry directly, bypassing the counters.
func (m *Memory) Add(e Entry) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.entries[e.ID] = e
	return e.ID
}

// Delete drops an entry as if it had been removed out of band.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) RequestAccess(ctx context.Context) (bool, error) {
	if m.AccessDelay > 0 {
		select {
		case <-time.After(m.AccessDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return !m.Deny, nil
}

func (m *Memory) BusyIntervals(_ context.Context, w model.WorkWindow) ([]model.BusyInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BusyInterval
	for _, e := range m.entries {
		if e.AllDay {
			continue
		}
		if e.End.After(w.Start) && e.Start.Before(w.End) {
			out = append(out, model.BusyInterval{Start: e.Start, End: e.End})
		}
	}
	return out, nil
}

func (m *Memory) CreateEntry(_ context.Context, d Draft) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, m.CreateErr)
	}
	id := uuid.NewString()
	m.entries[id] = entryFromDraft(id, d)
	m.Creates++
	return id, nil
}

func (m *Memory) UpdateEntry(_ context.Context, id string, d Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("update %s: %w", id, ErrEntryNotFound)
	}
	if m.UpdateErr != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, m.UpdateErr)
	}
	m.entries[id] = entryFromDraft(id, d)
	m.Updates++
	return nil
}

func (m *Memory) RemoveEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		delete(m.entries, id)
		m.Removes++
	}
	return nil
}

func (m *Memory) Entry(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("get %s: %w", id, ErrEntryNotFound)
	}
	return e, nil
}

func (m *Memory) EntriesInRange(_ context.Context, start, end time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.End.After(start) && e.Start.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) DefaultSource(context.Context) (Source, error) {
	return Source{ID: "memory", Title: "In-memory calendar", TimeZone: time.Local.String()}, nil
}

func entryFromDraft(id string, d Draft) Entry {
	end := d.End
	if d.AllDay && !end.After(d.Start) {
		end = d.Start.Add(24 * time.Hour)
	}
	return Entry{ID: id, Title: d.Title, Notes: d.Notes, Start: d.Start, End: end, AllDay: d.AllDay}
}
