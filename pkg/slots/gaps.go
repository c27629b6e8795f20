// Package slots finds free time inside a work window and ranks it for a task.
package slots

import (
	"sort"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

// ComputeGaps returns the maximal free intervals of window that no busy
// interval covers, in start order. Busy intervals may be unsorted, may
// overlap and may stick out of the window; a fully booked window yields no
// gaps.
func ComputeGaps(window model.WorkWindow, busy []model.BusyInterval) []model.TimeSlot {
	if !window.End.After(window.Start) {
		return nil
	}

	clamped := make([]model.BusyInterval, 0, len(busy))
	for _, b := range busy {
		if !b.End.After(window.Start) || !b.Start.Before(window.End) {
			continue
		}
		if b.Start.Before(window.Start) {
			b.Start = window.Start
		}
		if b.End.After(window.End) {
			b.End = window.End
		}
		if b.End.After(b.Start) {
			clamped = append(clamped, b)
		}
	}
	sort.SliceStable(clamped, func(i, j int) bool {
		return clamped[i].Start.Before(clamped[j].Start)
	})

	var gaps []model.TimeSlot
	cursor := window.Start
	for _, b := range clamped {
		if b.Start.After(cursor) {
			gaps = append(gaps, model.TimeSlot{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if window.End.After(cursor) {
		gaps = append(gaps, model.TimeSlot{Start: cursor, End: window.End})
	}
	return gaps
}
