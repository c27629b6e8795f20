package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/status"
)

// Monday 2026-10-19, 07:00 UTC.
var monday = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

func clock() time.Time { return monday }

func on(dayOffset, h, m int) time.Time {
	return time.Date(2026, 10, 19+dayOffset, h, m, 0, 0, time.UTC)
}

func book(cal *calendar.Memory, start, end time.Time) {
	cal.Add(calendar.Entry{Title: "meeting", Start: start, End: end})
}

// noWrites fails the test on any calendar write.
type noWrites struct {
	*calendar.Memory
	t *testing.T
}

func (n noWrites) CreateEntry(context.Context, calendar.Draft) (string, error) {
	n.t.Fatal("CreateEntry must not be called")
	return "", nil
}

// Both gaps start in the morning on the due day; the long one also earns the
// length bonus and the block is cut down to the estimate.
func TestScheduleMorningSlot(t *testing.T) {
	cal := calendar.NewMemory()
	book(cal, on(0, 10, 0), on(0, 11, 0))
	due := on(0, 23, 0)
	task := &model.Task{ID: "t1", Title: "Review", Estimate: 30 * time.Minute, Priority: model.PriorityHigh, Due: &due}

	res := New(cal, WithClock(clock)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled, got %s (%v)", res.Outcome, res.Err)
	}
	if !res.Block.Start.Equal(on(0, 11, 0)) || !res.Block.End.Equal(on(0, 11, 30)) {
		t.Errorf("Expected 11:00-11:30, got %v-%v", res.Block.Start, res.Block.End)
	}
	if res.Block.TaskID != "t1" {
		t.Errorf("Expected block for t1, got %s", res.Block.TaskID)
	}
	if cal.Creates != 1 {
		t.Errorf("Expected exactly one entry created, got %d", cal.Creates)
	}
	if task.ExternalID == "" || task.ScheduledAt == nil || !task.ScheduledAt.Equal(on(0, 11, 0)) {
		t.Errorf("Expected task linked to the new block, got id=%q at=%v", task.ExternalID, task.ScheduledAt)
	}
	e, err := cal.Entry(context.Background(), task.ExternalID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if e.Title != "Review" || e.Duration() != 30*time.Minute {
		t.Errorf("Unexpected entry %+v", e)
	}
}

func TestScheduleLongGapBeatsEarlierShortGap(t *testing.T) {
	cal := calendar.NewMemory()
	book(cal, on(0, 9, 45), on(0, 13, 0))
	due := on(0, 23, 0)
	task := &model.Task{ID: "t12", Estimate: 30 * time.Minute, Priority: model.PriorityLow, Due: &due}
	pref := model.DefaultPreference()
	pref.PreferMorning = false

	res := New(cal, WithClock(clock)).ScheduleTask(context.Background(), task, pref)

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled, got %s (%v)", res.Outcome, res.Err)
	}
	if !res.Block.Start.Equal(on(0, 13, 0)) || !res.Block.End.Equal(on(0, 13, 30)) {
		t.Errorf("Expected 13:00-13:30 in the four hour gap, got %v-%v", res.Block.Start, res.Block.End)
	}
	e, err := cal.Entry(context.Background(), task.ExternalID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if e.Duration() != 30*time.Minute {
		t.Errorf("Expected the entry to span the estimate, got %v", e.Duration())
	}
}

func TestScheduleOnlyGapLongEnough(t *testing.T) {
	cal := calendar.NewMemory()
	book(cal, on(0, 9, 0), on(0, 13, 0))
	book(cal, on(0, 16, 0), on(0, 17, 0))
	due := on(0, 18, 0)
	task := &model.Task{ID: "t2", Estimate: 2 * time.Hour, Due: &due}

	res := New(cal, WithClock(clock)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled, got %s (%v)", res.Outcome, res.Err)
	}
	if !res.Block.Start.Equal(on(0, 13, 0)) || !res.Block.End.Equal(on(0, 15, 0)) {
		t.Errorf("Expected 13:00-15:00, got %v-%v", res.Block.Start, res.Block.End)
	}
}

func TestScheduleRollsToNextDay(t *testing.T) {
	cal := calendar.NewMemory()
	book(cal, on(0, 8, 0), on(0, 18, 0))
	due := on(1, 0, 0)
	task := &model.Task{ID: "t3", Estimate: time.Hour, Due: &due}

	res := New(cal, WithClock(clock)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled on the due day, got %s", res.Outcome)
	}
	if !res.Block.Start.Equal(on(1, 9, 0)) {
		t.Errorf("Expected Tuesday 09:00, got %v", res.Block.Start)
	}
}

func TestScheduleTodayStartsAfterNow(t *testing.T) {
	cal := calendar.NewMemory()
	afternoon := func() time.Time { return on(0, 14, 20).Add(15 * time.Second) }
	due := on(0, 23, 0)
	task := &model.Task{ID: "t4", Estimate: 30 * time.Minute, Due: &due}

	res := New(cal, WithClock(afternoon)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled, got %s", res.Outcome)
	}
	if !res.Block.Start.Equal(on(0, 14, 21)) {
		t.Errorf("Expected the slot to start at the next minute, got %v", res.Block.Start)
	}
}

func TestSchedulePastDue(t *testing.T) {
	cal := calendar.NewMemory()
	due := on(-2, 12, 0)
	task := &model.Task{ID: "t5", Estimate: time.Hour, Due: &due}

	res := New(noWrites{cal, t}, WithClock(clock)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeNoSlot {
		t.Fatalf("Expected no slot, got %s", res.Outcome)
	}
	if res.Err != nil {
		t.Errorf("Expected no error for no-slot, got %v", res.Err)
	}
	if task.ExternalID != "" {
		t.Errorf("Expected task untouched, got id %q", task.ExternalID)
	}
}

func TestScheduleWithoutDueDateUsesHorizon(t *testing.T) {
	cal := calendar.NewMemory()
	for d := 0; d < 3; d++ {
		book(cal, on(d, 0, 0), on(d, 23, 59))
	}
	task := &model.Task{ID: "t6", Estimate: time.Hour}

	res := New(cal, WithClock(clock), WithHorizon(2)).ScheduleTask(context.Background(), task, model.DefaultPreference())
	if res.Outcome != OutcomeNoSlot {
		t.Fatalf("Expected no slot inside a two day horizon, got %s", res.Outcome)
	}

	res = New(cal, WithClock(clock), WithHorizon(5)).ScheduleTask(context.Background(), task, model.DefaultPreference())
	if res.Outcome != OutcomeScheduled || !res.Block.Start.Equal(on(3, 9, 0)) {
		t.Fatalf("Expected Thursday 09:00, got %s %v", res.Outcome, res.Block)
	}
}

func TestScheduleAccessDenied(t *testing.T) {
	cal := calendar.NewMemory()
	cal.Deny = true
	tracker := status.NewTracker()
	due := on(1, 0, 0)
	task := &model.Task{ID: "t7", Estimate: time.Hour, Due: &due}

	s := New(noWrites{cal, t}, WithClock(clock), WithTracker(tracker))
	res := s.ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeAccessDenied {
		t.Fatalf("Expected access denied, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, calendar.ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied, got %v", res.Err)
	}
	if s.AccessState() != AccessDenied {
		t.Errorf("Expected denied access state, got %s", s.AccessState())
	}
	if got := tracker.Current().State; got != status.Idle {
		t.Errorf("Expected status to stay idle, got %s", got)
	}
	if task.ExternalID != "" || task.ScheduledAt != nil {
		t.Error("Expected task untouched after denial")
	}
}

func TestScheduleAccessTimeout(t *testing.T) {
	cal := calendar.NewMemory()
	cal.AccessDelay = time.Minute
	due := on(1, 0, 0)
	task := &model.Task{ID: "t8", Estimate: time.Hour, Due: &due}

	res := New(noWrites{cal, t}, WithClock(clock), WithAccessTimeout(20*time.Millisecond)).
		ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeAccessDenied {
		t.Fatalf("Expected access denied on timeout, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", res.Err)
	}
}

func TestScheduleWriteFailure(t *testing.T) {
	cal := calendar.NewMemory()
	cal.CreateErr = errors.New("backend unavailable")
	tracker := status.NewTracker()
	due := on(1, 0, 0)
	task := &model.Task{ID: "t9", Estimate: time.Hour, Due: &due}

	res := New(cal, WithClock(clock), WithTracker(tracker)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeWriteFailed {
		t.Fatalf("Expected write failure, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, calendar.ErrWriteFailed) {
		t.Errorf("Expected ErrWriteFailed, got %v", res.Err)
	}
	if task.ExternalID != "" {
		t.Errorf("Expected no id after failed write, got %q", task.ExternalID)
	}
	if cal.Len() != 0 {
		t.Errorf("Expected no entries, got %d", cal.Len())
	}
	if got := tracker.Current().State; got != status.Error {
		t.Errorf("Expected error status, got %s", got)
	}
}

func TestRescheduleReplacesLinkedEntry(t *testing.T) {
	cal := calendar.NewMemory()
	old := cal.Add(calendar.Entry{Title: "Review", Start: on(0, 15, 0), End: on(0, 16, 0)})
	due := on(0, 23, 0)
	task := &model.Task{ID: "t10", Title: "Review", Estimate: time.Hour, Due: &due, ExternalID: old}
	tracker := status.NewTracker()

	res := New(cal, WithClock(clock), WithTracker(tracker)).ScheduleTask(context.Background(), task, model.DefaultPreference())

	if res.Outcome != OutcomeScheduled {
		t.Fatalf("Expected scheduled, got %s", res.Outcome)
	}
	if task.ExternalID == old {
		t.Error("Expected task linked to the new entry")
	}
	if _, err := cal.Entry(context.Background(), old); !errors.Is(err, calendar.ErrEntryNotFound) {
		t.Errorf("Expected old entry removed, got %v", err)
	}
	if cal.Len() != 1 {
		t.Errorf("Expected a single entry for the task, got %d", cal.Len())
	}
	if got := tracker.Current().State; got != status.Success {
		t.Errorf("Expected success status, got %s", got)
	}
}

func TestScheduleCanceled(t *testing.T) {
	cal := calendar.NewMemory()
	due := on(3, 0, 0)
	task := &model.Task{ID: "t11", Estimate: time.Hour, Due: &due}

	s := New(cal, WithClock(clock))
	// Grant access first so the canceled context only hits the day walk.
	if res := s.ScheduleTask(context.Background(), &model.Task{ID: "warmup", Estimate: time.Hour, Due: &due}, model.DefaultPreference()); res.Outcome != OutcomeScheduled {
		t.Fatalf("warmup: expected scheduled, got %s", res.Outcome)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.ScheduleTask(ctx, task, model.DefaultPreference())
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Expected failed with context.Canceled, got %s %v", res.Outcome, res.Err)
	}
	if cal.Creates != 1 {
		t.Errorf("Expected no writes after cancellation, got %d creates", cal.Creates)
	}
}
