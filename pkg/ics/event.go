package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
)

const (
	// maxOccurrences caps recurrence expansion per event.
	maxOccurrences = 5000
	// ridLayout stamps the original start of an instance into its id.
	ridLayout = "20060102T150405Z"
)

// event is the normalized view of a VEVENT.
type event struct {
	UID     string
	Summary string
	Notes   string
	Start   time.Time
	End     time.Time
	AllDay  bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
}

// id names a single event by its UID and a changed instance by its UID plus
// the start it replaces.
func (e event) id() string {
	if e.Recurrence != nil {
		return occurrenceID(e.UID, *e.Recurrence)
	}
	return e.UID
}

func (e event) entry(id string, start, end time.Time) calendar.Entry {
	return calendar.Entry{
		ID:     id,
		Title:  e.Summary,
		Notes:  e.Notes,
		Start:  start,
		End:    end,
		AllDay: e.AllDay,
	}
}

// occurrenceID names one instance of a recurring event. The id stays stable
// when the instance is moved, like Google's instance ids.
func occurrenceID(uid string, rid time.Time) string {
	return uid + "_" + rid.UTC().Format(ridLayout)
}

// splitOccurrenceID reverses occurrenceID. ok is false for plain UIDs.
func splitOccurrenceID(id string) (uid string, rid time.Time, ok bool) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return id, time.Time{}, false
	}
	rid, err := time.Parse(ridLayout, id[i+1:])
	if err != nil {
		return id, time.Time{}, false
	}
	return id[:i], rid, true
}

// instanceStamp formats an instance start for RECURRENCE-ID or EXDATE, in
// the value type of the series' DTSTART.
func instanceStamp(rid time.Time, series event) (string, []ical.PropertyParameter) {
	if series.AllDay {
		return rid.In(series.Start.Location()).Format("20060102"), []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	}
	return rid.UTC().Format(ridLayout), nil
}

func uidOf(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return p.Value
	}
	return ""
}

func parseVEvent(ve *ical.VEvent) (event, error) {
	var out event
	out.UID = uidOf(ve)
	if out.UID == "" {
		return out, errors.New("missing UID")
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Notes = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropTime(startProp)
	if err != nil {
		return out, err
	}
	out.Start, out.AllDay = start, allDay

	switch endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case endProp != nil:
		if out.End, _, err = parsePropTime(endProp); err != nil {
			return out, err
		}
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), tzOf(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTime(p.Value, tzOf(p)); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

func parsePropTime(p *ical.IANAProperty) (time.Time, bool, error) {
	allDay := !strings.Contains(p.Value, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	t, err := parseICSTime(p.Value, tzOf(p))
	return t, allDay, err
}

func tzOf(p *ical.IANAProperty) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return time.Local
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// occurrences returns the instances of events overlapping [from, to).
// Overrides carrying a RECURRENCE-ID replace the instance they name. Every
// instance of a recurring event gets its own occurrence id.
func occurrences(events []event, from, to time.Time) []calendar.Entry {
	overridden := make(map[string][]time.Time)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overridden[ev.UID] = append(overridden[ev.UID], *ev.Recurrence)
		}
	}

	var out []calendar.Entry
	for _, ev := range events {
		if ev.RawRRule == "" || ev.Recurrence != nil {
			if ev.End.After(from) && ev.Start.Before(to) {
				out = append(out, ev.entry(ev.id(), ev.Start, ev.End))
			}
			continue
		}

		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			continue
		}
		r.DTStart(ev.Start)
		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.ExDates {
			set.ExDate(ex.In(ev.Start.Location()))
		}
		for _, rid := range overridden[ev.UID] {
			set.ExDate(rid.In(ev.Start.Location()))
		}

		dur := ev.End.Sub(ev.Start)
		starts := set.Between(from.Add(-dur).In(ev.Start.Location()), to.In(ev.Start.Location()), false)
		if len(starts) > maxOccurrences {
			starts = starts[:maxOccurrences]
		}
		for _, s := range starts {
			e := s.Add(dur)
			if e.After(from) && s.Before(to) {
				out = append(out, ev.entry(occurrenceID(ev.UID, s), s, e))
			}
		}
	}
	return out
}
