package model

import "time"

// TimeSlot is a candidate or reserved span of time.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// BusyInterval is an existing calendar entry overlapping a work window.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// WorkWindow is the part of a day eligible for scheduling.
type WorkWindow struct {
	Start time.Time
	End   time.Time
}

// Preference configures where the scheduler likes to put work.
type Preference struct {
	WorkStartHour    int  `yaml:"work_start_hour"`
	WorkEndHour      int  `yaml:"work_end_hour"`
	PreferMorning    bool `yaml:"prefer_morning"`
	AvoidLateEvening bool `yaml:"avoid_late_evening"`
}

// DefaultPreference is a 9-to-5 day with mornings preferred.
func DefaultPreference() Preference {
	return Preference{
		WorkStartHour:    9,
		WorkEndHour:      17,
		PreferMorning:    true,
		AvoidLateEvening: true,
	}
}

// Window builds the work window for the calendar day containing day, in
// day's location.
func (p Preference) Window(day time.Time) WorkWindow {
	y, m, d := day.Date()
	loc := day.Location()
	return WorkWindow{
		Start: time.Date(y, m, d, p.WorkStartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, p.WorkEndHour, 0, 0, 0, loc),
	}
}

// ScheduledBlock is the result of reserving a slot for a task.
type ScheduledBlock struct {
	TaskID string
	Start  time.Time
	End    time.Time
}

// SyncResult summarizes one reconciliation pass. Deleted stays zero: passes
// never delete on either side.
type SyncResult struct {
	Created int
	Updated int
	Deleted int
}
