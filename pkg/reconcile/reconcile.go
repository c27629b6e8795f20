// Package reconcile keeps the local task store and an external calendar in
// step. A pass pushes local tasks first and then pulls unknown entries, so
// nothing pushed in a pass is imported back by the same pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/status"
)

const (
	defaultPullMonths    = 3
	defaultAccessTimeout = 30 * time.Second
)

// Resolver merges a linked task with its calendar entry before the entry is
// overwritten. It returns the task whose fields are pushed and saved, which
// may be local itself after editing it in place; returning nil keeps local
// unchanged. Without a resolver the local task wins.
type Resolver func(local *model.Task, remote calendar.Entry) *model.Task

// Reconciler owns the task collection for the duration of a pass.
type Reconciler struct {
	cal           calendar.Calendar
	store         model.Store
	logger        *slog.Logger
	now           func() time.Time
	pullMonths    int
	accessTimeout time.Duration
	tracker       *status.Tracker
	resolve       Resolver
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithPullMonths sets how far ahead the pull phase looks for entries.
func WithPullMonths(n int) Option {
	return func(r *Reconciler) { r.pullMonths = n }
}

func WithAccessTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.accessTimeout = d }
}

func WithTracker(t *status.Tracker) Option {
	return func(r *Reconciler) { r.tracker = t }
}

func WithResolver(fn Resolver) Option {
	return func(r *Reconciler) { r.resolve = fn }
}

func New(cal calendar.Calendar, store model.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		cal:           cal,
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		pullMonths:    defaultPullMonths,
		accessTimeout: defaultAccessTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loads every task from the store and reconciles them.
func (r *Reconciler) Run(ctx context.Context) (model.SyncResult, error) {
	tasks, err := r.store.Load(ctx)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("load tasks: %w", err)
	}
	res, _, err := r.Reconcile(ctx, tasks)
	return res, err
}

// Reconcile performs one push-then-pull pass over the full local collection.
// Tasks are updated in place; the returned slice also holds the tasks
// imported from the calendar. On error the counts cover the work done
// before the failure.
func (r *Reconciler) Reconcile(ctx context.Context, tasks []*model.Task) (model.SyncResult, []*model.Task, error) {
	var res model.SyncResult
	r.begin()

	if err := r.requestAccess(ctx); err != nil {
		r.fail(err)
		return res, tasks, err
	}
	r.advance(0.25)

	if err := r.push(ctx, tasks, &res); err != nil {
		r.fail(err)
		return res, tasks, err
	}
	r.advance(0.5)

	now := r.now()
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return res, tasks, err
	}
	entries, err := r.cal.EntriesInRange(ctx, now, now.AddDate(0, r.pullMonths, 0))
	if err != nil {
		err = fmt.Errorf("list entries: %w", err)
		r.fail(err)
		return res, tasks, err
	}
	r.advance(0.75)

	imported, err := r.pull(ctx, tasks, entries, &res)
	tasks = append(tasks, imported...)
	if err != nil {
		r.fail(err)
		return res, tasks, err
	}

	r.logger.Info("sync finished", "created", res.Created, "updated", res.Updated, "deleted", res.Deleted)
	r.succeed()
	return res, tasks, nil
}

// RemoveTask deletes the task's entry, if any, and unlinks the task.
func (r *Reconciler) RemoveTask(ctx context.Context, t *model.Task) error {
	if !t.Linked() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	if err := r.cal.RemoveEntry(wctx, t.ExternalID); err != nil {
		return fmt.Errorf("remove entry %s: %w", t.ExternalID, writeErr(err))
	}
	t.ExternalID = ""
	t.ScheduledAt = nil
	if err := r.store.Save(wctx, t); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (r *Reconciler) requestAccess(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, r.accessTimeout)
	defer cancel()
	ok, err := r.cal.RequestAccess(actx)
	if ok && err == nil {
		return nil
	}
	return errors.Join(calendar.ErrAccessDenied, err)
}

func (r *Reconciler) push(ctx context.Context, tasks []*model.Task, res *model.SyncResult) error {
	for _, t := range tasks {
		if t.LocalOnly {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if !t.Linked() {
			if err := r.create(ctx, t); err != nil {
				return err
			}
			res.Created++
			continue
		}

		created, err := r.update(ctx, t)
		if err != nil {
			return err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return nil
}

// update overwrites the linked entry from t. A dangling link is cleared and
// the entry re-created, which reports created=true.
func (r *Reconciler) update(ctx context.Context, t *model.Task) (created bool, err error) {
	log := r.logger.With("task", t.ID, "entry", t.ExternalID)

	remote, err := r.cal.Entry(ctx, t.ExternalID)
	if errors.Is(err, calendar.ErrEntryNotFound) {
		log.Warn("linked entry is gone, re-creating")
		return true, r.relink(ctx, t)
	}
	if err != nil {
		return false, fmt.Errorf("look up entry %s: %w", t.ExternalID, err)
	}

	changed := false
	if r.resolve != nil {
		if merged := r.resolve(t, remote); merged != nil {
			if merged != t {
				applyMerged(t, merged)
			}
			changed = true
		}
	}

	// Undated tasks keep whatever start the entry already has.
	draft := calendar.DraftFromTask(t, remote.Start)
	wctx := context.WithoutCancel(ctx)
	err = r.cal.UpdateEntry(wctx, t.ExternalID, draft)
	if errors.Is(err, calendar.ErrEntryNotFound) {
		log.Warn("linked entry vanished during update, re-creating")
		return true, r.relink(ctx, t)
	}
	if err != nil {
		return false, fmt.Errorf("update entry %s: %w", t.ExternalID, writeErr(err))
	}
	if changed {
		if err := r.store.Save(wctx, t); err != nil {
			return false, fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	return false, nil
}

// relink drops a stale id, persists that, and creates a fresh entry.
func (r *Reconciler) relink(ctx context.Context, t *model.Task) error {
	t.ExternalID = ""
	if err := r.store.Save(context.WithoutCancel(ctx), t); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return r.create(ctx, t)
}

// create pushes an unlinked task. If the link cannot be saved the new entry
// is removed again so no entry is left without a task.
func (r *Reconciler) create(ctx context.Context, t *model.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	draft := calendar.DraftFromTask(t, r.now())
	id, err := r.cal.CreateEntry(wctx, draft)
	if err == nil && id == "" {
		err = errors.New("backend returned an empty entry id")
	}
	if err != nil {
		return fmt.Errorf("create entry for task %s: %w", t.ID, writeErr(err))
	}

	// The task remembers it was mirrored all-day, since once linked an
	// estimate of zero no longer implies it.
	wasAllDay := t.AllDay
	t.ExternalID = id
	t.AllDay = draft.AllDay
	if err := r.store.Save(wctx, t); err != nil {
		t.ExternalID = ""
		t.AllDay = wasAllDay
		if rerr := r.cal.RemoveEntry(wctx, id); rerr != nil {
			r.logger.Error("could not roll back entry", "task", t.ID, "entry", id, "error", rerr)
		}
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	r.logger.Debug("entry created", "task", t.ID, "entry", id)
	return nil
}

func (r *Reconciler) pull(ctx context.Context, tasks []*model.Task, entries []calendar.Entry, res *model.SyncResult) ([]*model.Task, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Linked() {
			known[t.ExternalID] = true
		}
	}

	var imported []*model.Task
	for _, e := range entries {
		if known[e.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		start := e.Start
		t := &model.Task{
			ID:          uuid.NewString(),
			Title:       e.Title,
			Description: e.Notes,
			Estimate:    e.Duration(),
			Due:         &start,
			Priority:    model.PriorityMedium,
			AllDay:      e.AllDay,
			ExternalID:  e.ID,
		}
		if err := r.store.Save(context.WithoutCancel(ctx), t); err != nil {
			return imported, fmt.Errorf("save imported task for entry %s: %w", e.ID, err)
		}
		known[e.ID] = true
		imported = append(imported, t)
		res.Created++
		r.logger.Debug("entry imported", "task", t.ID, "entry", e.ID)
	}
	return imported, nil
}

// applyMerged copies the content fields of merged onto t. Identity and the
// link stay with t.
func applyMerged(t, merged *model.Task) {
	t.Title = merged.Title
	t.Description = merged.Description
	t.Estimate = merged.Estimate
	t.Due = merged.Due
	t.Priority = merged.Priority
	t.AllDay = merged.AllDay
	t.ScheduledAt = merged.ScheduledAt
}

// writeErr makes sure a backend write error matches calendar.ErrWriteFailed.
func writeErr(err error) error {
	if errors.Is(err, calendar.ErrWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", calendar.ErrWriteFailed, err)
}

func (r *Reconciler) begin() {
	if r.tracker != nil {
		r.tracker.Begin()
	}
}

func (r *Reconciler) advance(p float64) {
	if r.tracker != nil {
		r.tracker.Advance(p)
	}
}

func (r *Reconciler) succeed() {
	if r.tracker != nil {
		r.tracker.Succeed()
	}
}

func (r *Reconciler) fail(err error) {
	if r.tracker != nil {
		r.tracker.Fail(err)
	}
}
