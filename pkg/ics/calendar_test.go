package ics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/reconcile"
)

func TestEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.ics")
	ctx := context.Background()

	cal, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ok, err := cal.RequestAccess(ctx)
	if err != nil || !ok {
		t.Fatalf("Expected access, got %v, %v", ok, err)
	}

	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	id, err := cal.CreateEntry(ctx, calendar.Draft{Title: "Write report", Notes: "Q2", Start: start, End: start.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entry, err := reopened.Entry(ctx, id)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry.Title != "Write report" || entry.Notes != "Q2" {
		t.Errorf("Expected title and notes back, got %+v", entry)
	}
	if !entry.Start.Equal(start) || entry.Duration() != 90*time.Minute {
		t.Errorf("Expected 09:00 for 90m, got %v for %v", entry.Start, entry.Duration())
	}
}

func TestUpdateAndRemove(t *testing.T) {
	cal, err := Open(filepath.Join(t.TempDir(), "tasks.ics"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	id, err := cal.CreateEntry(ctx, calendar.Draft{Title: "a", Start: start, End: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.Local)
	if err := cal.UpdateEntry(ctx, id, calendar.Draft{Title: "b", Start: day, End: day, AllDay: true}); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	entry, err := cal.Entry(ctx, id)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry.Title != "b" || !entry.AllDay || entry.Duration() != 24*time.Hour {
		t.Errorf("Expected a one-day all-day entry titled b, got %+v", entry)
	}

	if err := cal.RemoveEntry(ctx, id); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}
	if err := cal.RemoveEntry(ctx, id); err != nil {
		t.Errorf("Expected removing a missing entry to be a no-op, got %v", err)
	}
	if _, err := cal.Entry(ctx, id); !errors.Is(err, calendar.ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
	if err := cal.UpdateEntry(ctx, id, calendar.Draft{Title: "c"}); !errors.Is(err, calendar.ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound on update, got %v", err)
	}
}

const recurringFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20250101T000000Z
DTSTART:20250602T100000Z
DTEND:20250602T103000Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20250604T100000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:standup
DTSTAMP:20250101T000000Z
RECURRENCE-ID:20250605T100000Z
DTSTART:20250605T140000Z
DTEND:20250605T143000Z
SUMMARY:Standup (moved)
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTAMP:20250101T000000Z
DTSTART;VALUE=DATE:20250603
DTEND;VALUE=DATE:20250604
SUMMARY:Holiday
END:VEVENT
END:VCALENDAR
`

func openFixture(t *testing.T) *Calendar {
	t.Helper()
	return openBody(t, recurringFixture)
}

func openBody(t *testing.T, fixture string) *Calendar {
	t.Helper()
	path := filepath.Join(t.TempDir(), "team.ics")
	body := strings.ReplaceAll(fixture, "\n", "\r\n")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cal, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return cal
}

func TestBusyIntervalsExpandRecurrence(t *testing.T) {
	cal := openFixture(t)
	ctx := context.Background()

	cases := []struct {
		day       int
		wantHours []int
	}{
		{2, []int{10}},
		{3, []int{10}},
		{4, nil},
		{5, []int{14}},
		{6, []int{10}},
		{7, nil},
	}
	for _, c := range cases {
		window := model.WorkWindow{
			Start: time.Date(2025, 6, c.day, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, c.day+1, 0, 0, 0, 0, time.UTC),
		}
		busy, err := cal.BusyIntervals(ctx, window)
		if err != nil {
			t.Fatalf("BusyIntervals failed: %v", err)
		}
		if len(busy) != len(c.wantHours) {
			t.Errorf("June %d: expected %d busy intervals, got %+v", c.day, len(c.wantHours), busy)
			continue
		}
		for i, h := range c.wantHours {
			if busy[i].Start.UTC().Hour() != h {
				t.Errorf("June %d: expected busy at %d:00, got %v", c.day, h, busy[i].Start)
			}
		}
	}
}

func TestEntriesInRangeIncludesOccurrences(t *testing.T) {
	cal := openFixture(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	entries, err := cal.EntriesInRange(context.Background(), start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("EntriesInRange failed: %v", err)
	}
	// four standups plus the holiday
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Start.Before(entries[i-1].Start) {
			t.Errorf("Expected entries ordered by start, got %v before %v", entries[i-1].Start, entries[i].Start)
		}
	}
}

const weeklyFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:review
DTSTAMP:20260101T000000Z
DTSTART:20260105T100000Z
DTEND:20260105T110000Z
RRULE:FREQ=WEEKLY;COUNT=60
SUMMARY:Review
END:VEVENT
END:VCALENDAR
`

var seriesStart = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func reopen(t *testing.T, cal *Calendar) *Calendar {
	t.Helper()
	again, err := Open(cal.path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	return again
}

func countEvents(t *testing.T, cal *Calendar) int {
	t.Helper()
	body, err := os.ReadFile(cal.path)
	if err != nil {
		t.Fatalf("read calendar: %v", err)
	}
	return strings.Count(string(body), "BEGIN:VEVENT")
}

func TestRecurringInstanceUpdateLeavesSeries(t *testing.T) {
	cal := openBody(t, weeklyFixture)
	ctx := context.Background()
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 3, 0)

	entries, err := cal.EntriesInRange(ctx, from, to)
	if err != nil {
		t.Fatalf("EntriesInRange failed: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("Expected weekly instances in range, got %d", len(entries))
	}
	first, second := entries[0], entries[1]
	if first.ID != "review_20261019T100000Z" {
		t.Fatalf("Expected an instance id, got %q", first.ID)
	}

	// Writing an instance back unchanged adds nothing to the file.
	same := calendar.Draft{Title: first.Title, Start: first.Start, End: first.End}
	if err := cal.UpdateEntry(ctx, first.ID, same); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if n := countEvents(t, cal); n != 1 {
		t.Fatalf("Expected no override for an unchanged instance, got %d events", n)
	}

	moved := first.Start.Add(4 * time.Hour)
	if err := cal.UpdateEntry(ctx, first.ID, calendar.Draft{Title: "Review (prep)", Start: moved, End: moved.Add(time.Hour)}); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if err := cal.RemoveEntry(ctx, second.ID); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}

	cal = reopen(t, cal)
	got, err := cal.Entry(ctx, first.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if got.Title != "Review (prep)" || !got.Start.Equal(moved) {
		t.Errorf("Expected the moved instance, got %+v", got)
	}
	if _, err := cal.Entry(ctx, second.ID); !errors.Is(err, calendar.ErrEntryNotFound) {
		t.Errorf("Expected the removed instance gone, got %v", err)
	}
	series, err := cal.Entry(ctx, "review")
	if err != nil {
		t.Fatalf("Entry for the series failed: %v", err)
	}
	if !series.Start.Equal(seriesStart) || series.Title != "Review" {
		t.Errorf("Expected the series untouched, got %+v", series)
	}

	after, err := cal.EntriesInRange(ctx, from, to)
	if err != nil {
		t.Fatalf("EntriesInRange failed: %v", err)
	}
	if len(after) != len(entries)-1 {
		t.Errorf("Expected %d instances after one removal, got %d", len(entries)-1, len(after))
	}
	if after[0].ID != first.ID || after[1].Title != "Review" {
		t.Errorf("Expected the other instances unchanged, got %+v", after[:2])
	}
}

type taskList struct {
	tasks []*model.Task
}

func (l *taskList) Load(context.Context) ([]*model.Task, error) { return l.tasks, nil }

func (l *taskList) Save(_ context.Context, t *model.Task) error {
	for _, have := range l.tasks {
		if have.ID == t.ID {
			return nil
		}
	}
	l.tasks = append(l.tasks, t)
	return nil
}

func TestReconcileKeepsRecurringSeries(t *testing.T) {
	cal := openBody(t, weeklyFixture)
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }
	store := &taskList{}
	r := reconcile.New(cal, store, reconcile.WithClock(clock))

	first, tasks, err := r.Reconcile(ctx, nil)
	if err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	if first.Created == 0 || len(tasks) != first.Created {
		t.Fatalf("Expected one task per instance, got %+v and %d tasks", first, len(tasks))
	}

	second, _, err := r.Reconcile(ctx, tasks)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if second.Created != 0 || second.Updated != len(tasks) {
		t.Errorf("Expected every instance updated in place, got %+v", second)
	}

	cal = reopen(t, cal)
	series, err := cal.Entry(ctx, "review")
	if err != nil {
		t.Fatalf("Entry for the series failed: %v", err)
	}
	if !series.Start.Equal(seriesStart) {
		t.Errorf("Expected the series to still start %v, got %v", seriesStart, series.Start)
	}
	if n := countEvents(t, cal); n != 1 {
		t.Errorf("Expected the file to hold only the series, got %d events", n)
	}
}
