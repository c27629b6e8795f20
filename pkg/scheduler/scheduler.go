// Package scheduler reserves calendar time for tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/slots"
	"github.com/harrisonrobin/taskplan/pkg/status"
)

const (
	defaultAccessTimeout = 30 * time.Second
	defaultHorizonDays   = 14
)

// ErrNoSlot is reported to the status tracker when nothing fits.
var ErrNoSlot = errors.New("no free slot before the due date")

// AccessState follows the calendar permission request.
type AccessState int

const (
	AccessNotRequested AccessState = iota
	AccessPending
	AccessGranted
	AccessDenied
)

func (a AccessState) String() string {
	return [...]string{"not-requested", "pending", "granted", "denied"}[a]
}

// Outcome tags a scheduling result.
type Outcome int

const (
	OutcomeScheduled Outcome = iota
	OutcomeNoSlot
	OutcomeAccessDenied
	OutcomeWriteFailed
	// OutcomeFailed covers read errors and cancellation before any write.
	OutcomeFailed
)

func (o Outcome) String() string {
	return [...]string{"scheduled", "no-slot", "access-denied", "write-failed", "failed"}[o]
}

// Result is returned by ScheduleTask. Block is set only for
// OutcomeScheduled; Err carries the cause for the failure outcomes.
type Result struct {
	Outcome Outcome
	Block   *model.ScheduledBlock
	Err     error
}

// Scheduler finds the best free slot before a task's due date and books it.
type Scheduler struct {
	cal           calendar.Calendar
	scorer        slots.Scorer
	logger        *slog.Logger
	now           func() time.Time
	accessTimeout time.Duration
	horizonDays   int
	tracker       *status.Tracker

	mu     sync.Mutex
	access AccessState
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now for both the day walk and scoring.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithAccessTimeout bounds the permission request; expiry counts as denial.
func WithAccessTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.accessTimeout = d }
}

// WithHorizon sets how many days ahead tasks without a due date may land.
func WithHorizon(days int) Option {
	return func(s *Scheduler) { s.horizonDays = days }
}

func WithTracker(t *status.Tracker) Option {
	return func(s *Scheduler) { s.tracker = t }
}

func New(cal calendar.Calendar, opts ...Option) *Scheduler {
	s := &Scheduler{
		cal:           cal,
		logger:        slog.Default(),
		now:           time.Now,
		accessTimeout: defaultAccessTimeout,
		horizonDays:   defaultHorizonDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scorer = slots.Scorer{Now: s.now}
	return s
}

func (s *Scheduler) AccessState() AccessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

// ScheduleTask books one entry spanning the task's estimate in the best
// free slot. On success the task is linked to the new entry; a previously
// linked entry is removed. Denied access never touches the calendar.
func (s *Scheduler) ScheduleTask(ctx context.Context, task *model.Task, pref model.Preference) Result {
	log := s.logger.With("task", task.ID)

	if ok, err := s.requestAccess(ctx); !ok {
		log.Info("calendar access denied", "error", err)
		return Result{Outcome: OutcomeAccessDenied, Err: errors.Join(calendar.ErrAccessDenied, err)}
	}

	s.begin()
	if task.Estimate <= 0 {
		s.fail(ErrNoSlot)
		return Result{Outcome: OutcomeNoSlot}
	}

	candidates, err := s.candidates(ctx, task, pref)
	if err != nil {
		s.fail(err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	s.advance(0.5)

	gap, ok := s.scorer.SelectBest(candidates, task, pref)
	if !ok {
		log.Info("no slot available", "candidates", 0)
		s.fail(ErrNoSlot)
		return Result{Outcome: OutcomeNoSlot}
	}
	s.advance(0.75)
	best := model.TimeSlot{Start: gap.Start, End: gap.Start.Add(task.Estimate)}

	// An issued write is allowed to finish even if ctx is canceled.
	wctx := context.WithoutCancel(ctx)
	draft := calendar.Draft{Title: task.Title, Notes: task.Description, Start: best.Start, End: best.End}
	id, err := s.cal.CreateEntry(wctx, draft)
	if err == nil && id == "" {
		err = fmt.Errorf("%w: backend returned an empty entry id", calendar.ErrWriteFailed)
	}
	if err != nil {
		log.Error("failed to create entry", "error", err)
		s.fail(err)
		return Result{Outcome: OutcomeWriteFailed, Err: err}
	}

	previous := task.ExternalID
	start := best.Start
	task.ExternalID = id
	task.ScheduledAt = &start
	task.AllDay = false
	if previous != "" && previous != id {
		if err := s.cal.RemoveEntry(wctx, previous); err != nil {
			log.Warn("could not remove previously linked entry", "entry", previous, "error", err)
		}
	}

	log.Info("task scheduled", "entry", id, "start", best.Start, "end", best.End)
	s.succeed()
	return Result{
		Outcome: OutcomeScheduled,
		Block:   &model.ScheduledBlock{TaskID: task.ID, Start: best.Start, End: best.End},
	}
}

func (s *Scheduler) requestAccess(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.access == AccessGranted {
		s.mu.Unlock()
		return true, nil
	}
	s.access = AccessPending
	s.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, s.accessTimeout)
	defer cancel()
	ok, err := s.cal.RequestAccess(actx)
	if err != nil {
		ok = false
	}

	s.mu.Lock()
	if ok {
		s.access = AccessGranted
	} else {
		s.access = AccessDenied
	}
	s.mu.Unlock()
	return ok, err
}

// candidates walks the days up to the deadline and returns every gap that is
// long enough for the task's estimate. Gaps are scored whole; only the
// winner is cut down to the estimate.
func (s *Scheduler) candidates(ctx context.Context, task *model.Task, pref model.Preference) ([]model.TimeSlot, error) {
	now := ceilMinute(s.now())

	var last time.Time
	if task.Due != nil && !task.Due.IsZero() {
		last = *task.Due
	} else {
		last = now.AddDate(0, 0, s.horizonDays)
	}
	if last.Before(now) {
		return nil, nil
	}

	var out []model.TimeSlot
	y, m, d := now.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, now.Location()); !day.After(last); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := pref.Window(day)
		if w.Start.Before(now) {
			w.Start = now
		}
		if !w.End.After(w.Start) {
			continue
		}

		busy, err := s.cal.BusyIntervals(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("busy intervals for %s: %w", day.Format(time.DateOnly), err)
		}
		for _, gap := range slots.ComputeGaps(w, busy) {
			if gap.Duration() >= task.Estimate {
				out = append(out, gap)
			}
		}
	}
	return out, nil
}

func ceilMinute(t time.Time) time.Time {
	r := t.Truncate(time.Minute)
	if r.Before(t) {
		r = r.Add(time.Minute)
	}
	return r
}

func (s *Scheduler) begin() {
	if s.tracker != nil {
		s.tracker.Begin()
	}
}

func (s *Scheduler) advance(p float64) {
	if s.tracker != nil {
		s.tracker.Advance(p)
	}
}

func (s *Scheduler) succeed() {
	if s.tracker != nil {
		s.tracker.Succeed()
	}
}

func (s *Scheduler) fail(err error) {
	if s.tracker != nil {
		s.tracker.Fail(err)
	}
}
