package google

import (
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
)

const (
	dateLayout = "2006-01-02"

	// managedKey marks events written by this program.
	managedKey = "taskplan"
)

// toEvent converts d into an event. All-day drafts use exclusive end dates
// and last at least one day.
func toEvent(d calendar.Draft) *gcal.Event {
	ev := &gcal.Event{
		Summary:     d.Title,
		Description: d.Notes,
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{managedKey: "1"},
		},
	}
	if d.AllDay {
		startDay := truncateDay(d.Start)
		endDay := truncateDay(d.End)
		if !endDay.After(startDay) {
			endDay = startDay.AddDate(0, 0, 1)
		}
		ev.Start = &gcal.EventDateTime{Date: startDay.Format(dateLayout)}
		ev.End = &gcal.EventDateTime{Date: endDay.Format(dateLayout)}
		return ev
	}
	ev.Start = &gcal.EventDateTime{DateTime: d.Start.Format(time.RFC3339)}
	ev.End = &gcal.EventDateTime{DateTime: d.End.Format(time.RFC3339)}
	return ev
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func fromEvent(ev *gcal.Event) (calendar.Entry, error) {
	if ev.Start == nil || ev.End == nil {
		return calendar.Entry{}, fmt.Errorf("event %s has no start or end", ev.Id)
	}
	start, allDay, err := parseEventTime(ev.Start)
	if err != nil {
		return calendar.Entry{}, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	end, _, err := parseEventTime(ev.End)
	if err != nil {
		return calendar.Entry{}, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return calendar.Entry{
		ID:     ev.Id,
		Title:  ev.Summary,
		Notes:  ev.Description,
		Start:  start,
		End:    end,
		AllDay: allDay,
	}, nil
}

func parseEventTime(edt *gcal.EventDateTime) (time.Time, bool, error) {
	if edt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, edt.Date, time.Local)
		return t, true, err
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	return t, false, err
}

// eventPatch returns the fields of target that differ from existing, or nil
// when the event is already up to date.
func eventPatch(existing, target *gcal.Event) (*gcal.Event, error) {
	patch := &gcal.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}

	if existing.Description != target.Description {
		patch.Description = target.Description
		if target.Description == "" {
			patch.ForceSendFields = append(patch.ForceSendFields, "Description")
		}
		needsUpdate = true
	}

	cur, err := fromEvent(existing)
	if err != nil {
		return nil, err
	}
	want, err := fromEvent(target)
	if err != nil {
		return nil, err
	}
	if cur.AllDay != want.AllDay || !cur.Start.Equal(want.Start) || !cur.End.Equal(want.End) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}
