package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority ranks how urgently a task should be placed on the calendar.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// ParsePriority accepts the long names as well as Taskwarrior's L/M/H letters.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l":
		return PriorityLow, nil
	case "", "medium", "m":
		return PriorityMedium, nil
	case "high", "h":
		return PriorityHigh, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Task is the unit the scheduler places and the reconciler mirrors.
type Task struct {
	ID          string
	Title       string
	Description string
	Estimate    time.Duration
	Due         *time.Time
	Priority    Priority
	AllDay      bool

	// ExternalID is the calendar entry mirroring this task. It is set only
	// while that entry exists.
	ExternalID string

	// ScheduledAt is the start of the block reserved by the scheduler.
	ScheduledAt *time.Time

	// LocalOnly tasks are never pushed to the calendar.
	LocalOnly bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Linked reports whether the task is mirrored by a calendar entry.
func (t *Task) Linked() bool {
	return t.ExternalID != ""
}

// Start is where the task sits on the calendar when it is pushed: the
// reserved block if there is one, then the due date, then now.
func (t *Task) Start(now time.Time) time.Time {
	if t.ScheduledAt != nil && !t.ScheduledAt.IsZero() {
		return *t.ScheduledAt
	}
	if t.Due != nil && !t.Due.IsZero() {
		return *t.Due
	}
	return now
}

// Store loads and persists tasks for the surrounding application.
type Store interface {
	Load(ctx context.Context) ([]*Task, error)
	Save(ctx context.Context, t *Task) error
}
