// Package calendar defines the port through which tasks reach an external
// calendar, and the errors its backends report.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

var (
	// ErrAccessDenied means the backend or the user refused access.
	ErrAccessDenied = errors.New("calendar access denied")
	// ErrEntryNotFound means an id no longer names a live entry.
	ErrEntryNotFound = errors.New("calendar entry not found")
	// ErrWriteFailed wraps a failed create, update or remove.
	ErrWriteFailed = errors.New("calendar write failed")
)

// Entry is an event as stored by the backend.
type Entry struct {
	ID     string
	Title  string
	Notes  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Duration is how long the entry runs.
func (e Entry) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Draft holds the fields written when creating or overwriting an entry.
type Draft struct {
	Title  string
	Notes  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Source is the account or container new calendars are created in.
type Source struct {
	ID       string
	Title    string
	TimeZone string
}

// Calendar is implemented by every backend (Google, iCalendar file, memory).
type Calendar interface {
	// RequestAccess may block until the user answers; callers bound it with ctx.
	RequestAccess(ctx context.Context) (bool, error)
	BusyIntervals(ctx context.Context, window model.WorkWindow) ([]model.BusyInterval, error)
	CreateEntry(ctx context.Context, d Draft) (string, error)
	// UpdateEntry returns ErrEntryNotFound for unknown ids.
	UpdateEntry(ctx context.Context, id string, d Draft) error
	// RemoveEntry is a no-op for unknown ids.
	RemoveEntry(ctx context.Context, id string) error
	// Entry returns ErrEntryNotFound for unknown ids.
	Entry(ctx context.Context, id string) (Entry, error)
	EntriesInRange(ctx context.Context, start, end time.Time) ([]Entry, error)
	DefaultSource(ctx context.Context) (Source, error)
}

// DraftFromTask builds the entry fields mirroring t. Tasks flagged all-day
// become all-day entries, and so do unlinked tasks without an estimate. A
// linked task keeps the shape of its entry, so a zero-length timed entry
// stays timed.
func DraftFromTask(t *model.Task, now time.Time) Draft {
	start := t.Start(now)
	return Draft{
		Title:  t.Title,
		Notes:  t.Description,
		Start:  start,
		End:    start.Add(t.Estimate),
		AllDay: t.AllDay || (t.Estimate == 0 && !t.Linked()),
	}
}
