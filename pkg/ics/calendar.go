// Package ics implements the calendar port on a local iCalendar file, for
// offline use and for calendars exported by other tools.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
)

const productID = "-//taskplan//taskplan//EN"

// Calendar keeps every entry in one .ics file, rewritten atomically on each
// write.
type Calendar struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	cal *ical.Calendar
}

var _ calendar.Calendar = (*Calendar)(nil)

// Open loads the file at path, starting an empty calendar if it is missing
// or empty.
func Open(path string, logger *slog.Logger) (*Calendar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Calendar{path: path, logger: logger}

	body, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(body)) == 0):
		c.cal = ical.NewCalendarFor("taskplan")
		c.cal.SetProductId(productID)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		cal, err := ical.ParseCalendar(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		c.cal = cal
	}
	return c, nil
}

// RequestAccess reports whether the calendar's directory is writable.
func (c *Calendar) RequestAccess(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	probe, err := os.CreateTemp(dir, ".taskplan-probe-*")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			c.logger.Warn("calendar file not writable", "path", c.path)
			return false, nil
		}
		return false, err
	}
	probe.Close()
	os.Remove(probe.Name())
	return true, nil
}

// BusyIntervals returns timed occurrences overlapping window. All-day
// entries do not block time.
func (c *Calendar) BusyIntervals(ctx context.Context, window model.WorkWindow) ([]model.BusyInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	events := c.events()
	c.mu.Unlock()

	var busy []model.BusyInterval
	for _, e := range occurrences(events, window.Start, window.End) {
		if e.AllDay {
			continue
		}
		busy = append(busy, model.BusyInterval{Start: e.Start, End: e.End})
	}
	return busy, nil
}

func (c *Calendar) CreateEntry(ctx context.Context, d calendar.Draft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	uid := uuid.NewString()
	ve := c.cal.AddEvent(uid)
	ve.SetDtStampTime(time.Now())
	applyDraft(ve, d)
	if err := c.save(); err != nil {
		c.drop(uid)
		return "", fmt.Errorf("%w: %v", calendar.ErrWriteFailed, err)
	}
	return uid, nil
}

// UpdateEntry overwrites a single event. For an instance of a recurring
// event it writes an override and leaves the series alone; an instance that
// already matches d is not written.
func (c *Calendar) UpdateEntry(ctx context.Context, id string, d calendar.Draft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if uid, rid, ok := splitOccurrenceID(id); ok {
		if current, found := c.instance(uid, rid); found {
			if matchesDraft(current, d) {
				return nil
			}
			return c.updateInstance(uid, rid, d)
		}
	}

	ve := c.find(id)
	if ve == nil {
		return fmt.Errorf("%w: %s", calendar.ErrEntryNotFound, id)
	}
	applyDraft(ve, d)
	ve.SetDtStampTime(time.Now())
	if err := c.save(); err != nil {
		return fmt.Errorf("%w: %v", calendar.ErrWriteFailed, err)
	}
	return nil
}

// RemoveEntry deletes a single event with its overrides, or cancels one
// instance of a recurring event.
func (c *Calendar) RemoveEntry(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if uid, rid, ok := splitOccurrenceID(id); ok {
		if _, found := c.instance(uid, rid); found {
			c.removeInstance(uid, rid)
			if err := c.save(); err != nil {
				return fmt.Errorf("%w: %v", calendar.ErrWriteFailed, err)
			}
			return nil
		}
	}

	if !c.drop(id) {
		return nil
	}
	if err := c.save(); err != nil {
		return fmt.Errorf("%w: %v", calendar.ErrWriteFailed, err)
	}
	return nil
}

func (c *Calendar) Entry(ctx context.Context, id string) (calendar.Entry, error) {
	if err := ctx.Err(); err != nil {
		return calendar.Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if uid, rid, ok := splitOccurrenceID(id); ok {
		if e, found := c.instance(uid, rid); found {
			return e, nil
		}
	}
	ve := c.find(id)
	if ve == nil {
		return calendar.Entry{}, fmt.Errorf("%w: %s", calendar.ErrEntryNotFound, id)
	}
	ev, err := parseVEvent(ve)
	if err != nil {
		return calendar.Entry{}, fmt.Errorf("parsing entry %s: %w", id, err)
	}
	return ev.entry(id, ev.Start, ev.End), nil
}

// EntriesInRange returns occurrences starting in [start, end), recurring
// events expanded, ordered by start.
func (c *Calendar) EntriesInRange(ctx context.Context, start, end time.Time) ([]calendar.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	events := c.events()
	c.mu.Unlock()

	var out []calendar.Entry
	for _, e := range occurrences(events, start, end) {
		if !e.Start.Before(start) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// DefaultSource names the file itself.
func (c *Calendar) DefaultSource(ctx context.Context) (calendar.Source, error) {
	return calendar.Source{
		ID:       c.path,
		Title:    filepath.Base(c.path),
		TimeZone: time.Local.String(),
	}, nil
}

func (c *Calendar) events() []event {
	var out []event
	for _, ve := range c.cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			c.logger.Warn("skipping vevent", "uid", uidOf(ve), "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// find returns the event or series master with the given UID, never one of
// its overrides.
func (c *Calendar) find(uid string) *ical.VEvent {
	for _, ve := range c.cal.Events() {
		if uidOf(ve) == uid && ve.GetProperty(ical.ComponentPropertyRecurrenceId) == nil {
			return ve
		}
	}
	return nil
}

// findOverride returns the event replacing the instance of uid at rid.
func (c *Calendar) findOverride(uid string, rid time.Time) *ical.VEvent {
	for _, ve := range c.cal.Events() {
		if uidOf(ve) != uid {
			continue
		}
		p := ve.GetProperty(ical.ComponentPropertyRecurrenceId)
		if p == nil {
			continue
		}
		if t, err := parseICSTime(p.Value, tzOf(p)); err == nil && t.Equal(rid) {
			return ve
		}
	}
	return nil
}

// instance resolves one occurrence of a recurring event. It reports false
// when the series does not produce rid or the instance was cancelled.
func (c *Calendar) instance(uid string, rid time.Time) (calendar.Entry, bool) {
	id := occurrenceID(uid, rid)
	if ve := c.findOverride(uid, rid); ve != nil {
		ev, err := parseVEvent(ve)
		if err != nil {
			return calendar.Entry{}, false
		}
		return ev.entry(id, ev.Start, ev.End), true
	}

	master := c.find(uid)
	if master == nil {
		return calendar.Entry{}, false
	}
	series, err := parseVEvent(master)
	if err != nil || series.RawRRule == "" {
		return calendar.Entry{}, false
	}
	span := series.End.Sub(series.Start)
	for _, e := range occurrences([]event{series}, rid.Add(-time.Second), rid.Add(span+time.Second)) {
		if e.ID == id {
			return e, true
		}
	}
	return calendar.Entry{}, false
}

// updateInstance writes d into the override for one occurrence, adding the
// override on first change.
func (c *Calendar) updateInstance(uid string, rid time.Time, d calendar.Draft) error {
	ve := c.findOverride(uid, rid)
	added := false
	if ve == nil {
		series, err := parseVEvent(c.find(uid))
		if err != nil {
			return fmt.Errorf("parsing series %s: %w", uid, err)
		}
		ve = ical.NewEvent(uid)
		value, params := instanceStamp(rid, series)
		ve.SetProperty(ical.ComponentPropertyRecurrenceId, value, params...)
		c.cal.AddVEvent(ve)
		added = true
	}
	applyDraft(ve, d)
	ve.SetDtStampTime(time.Now())
	if err := c.save(); err != nil {
		if added {
			c.removeWhere(func(v *ical.VEvent) bool { return v == ve })
		}
		return fmt.Errorf("%w: %v", calendar.ErrWriteFailed, err)
	}
	return nil
}

// removeInstance drops the override for rid and excludes rid from the
// series.
func (c *Calendar) removeInstance(uid string, rid time.Time) {
	if override := c.findOverride(uid, rid); override != nil {
		c.removeWhere(func(v *ical.VEvent) bool { return v == override })
	}
	master := c.find(uid)
	if master == nil {
		return
	}
	if series, err := parseVEvent(master); err == nil {
		value, params := instanceStamp(rid, series)
		master.AddProperty(ical.ComponentPropertyExdate, value, params...)
	}
}

// drop removes every component with the given UID.
func (c *Calendar) drop(uid string) bool {
	return c.removeWhere(func(ve *ical.VEvent) bool { return uidOf(ve) == uid })
}

func (c *Calendar) removeWhere(match func(*ical.VEvent) bool) bool {
	kept := c.cal.Components[:0]
	removed := false
	for _, comp := range c.cal.Components {
		if ve, ok := comp.(*ical.VEvent); ok && match(ve) {
			removed = true
			continue
		}
		kept = append(kept, comp)
	}
	c.cal.Components = kept
	return removed
}

func (c *Calendar) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(c.cal.Serialize()), 0600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// allDaySpan returns the first day and the exclusive last day of an all-day
// draft, at least one day apart.
func allDaySpan(d calendar.Draft) (time.Time, time.Time) {
	startDay := time.Date(d.Start.Year(), d.Start.Month(), d.Start.Day(), 0, 0, 0, 0, d.Start.Location())
	endDay := time.Date(d.End.Year(), d.End.Month(), d.End.Day(), 0, 0, 0, 0, d.End.Location())
	if !endDay.After(startDay) {
		endDay = startDay.AddDate(0, 0, 1)
	}
	return startDay, endDay
}

// matchesDraft reports whether writing d would leave e unchanged.
func matchesDraft(e calendar.Entry, d calendar.Draft) bool {
	if e.Title != d.Title || e.Notes != d.Notes || e.AllDay != d.AllDay {
		return false
	}
	if d.AllDay {
		start, end := allDaySpan(d)
		return sameDay(e.Start, start) && sameDay(e.End, end)
	}
	return e.Start.Equal(d.Start) && e.End.Equal(d.End)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func applyDraft(ve *ical.VEvent, d calendar.Draft) {
	ve.SetSummary(d.Title)
	ve.SetDescription(d.Notes)
	if d.AllDay {
		startDay, endDay := allDaySpan(d)
		ve.SetAllDayStartAt(startDay)
		ve.SetAllDayEndAt(endDay)
		return
	}
	ve.SetStartAt(d.Start)
	ve.SetEndAt(d.End)
}
