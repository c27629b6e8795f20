package taskwarrior

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/taskplan/pkg/index"
	"github.com/harrisonrobin/taskplan/pkg/model"
)

// Store exposes pending Taskwarrior tasks as model tasks. Taskwarrior has no
// field for the calendar entry id, so links live in an EntryIndex.
type Store struct {
	client *Client
	index  *index.EntryIndex
	logger *slog.Logger

	mu  sync.Mutex
	raw map[string]map[string]any
}

func NewStore(client *Client, idx *index.EntryIndex, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, index: idx, logger: logger, raw: make(map[string]map[string]any)}
}

func (s *Store) Load(ctx context.Context) ([]*model.Task, error) {
	tasks, raws, err := s.client.Export(ctx, "status:pending")
	if err != nil {
		return nil, fmt.Errorf("exporting tasks: %w", err)
	}

	s.mu.Lock()
	s.raw = raws
	s.mu.Unlock()

	out := make([]*model.Task, 0, len(tasks))
	for i := range tasks {
		t, err := s.toModel(&tasks[i])
		if err != nil {
			s.logger.Warn("skipping task", "uuid", tasks[i].UUID, "err", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) toModel(tw *Task) (*model.Task, error) {
	est, err := ParseDuration(tw.Est)
	if err != nil {
		return nil, err
	}
	prio, err := model.ParsePriority(tw.Priority)
	if err != nil {
		return nil, err
	}
	t := &model.Task{
		ID:          tw.UUID,
		Title:       tw.Description,
		Description: tw.Notes(),
		Estimate:    est,
		Priority:    prio,
		AllDay:      tw.HasTag(AllDayTag),
		LocalOnly:   tw.HasTag(NoSyncTag),
		ExternalID:  s.index.Get(tw.UUID),
	}
	if tw.Due != nil && !tw.Due.IsZero() {
		d := tw.Due.Time
		t.Due = &d
	}
	if tw.Scheduled != nil && !tw.Scheduled.IsZero() {
		sc := tw.Scheduled.Time
		t.ScheduledAt = &sc
	}
	if tw.Entry != nil {
		t.CreatedAt = tw.Entry.Time
	}
	if tw.Modified != nil {
		t.UpdatedAt = tw.Modified.Time
	}
	return t, nil
}

// Save imports t into Taskwarrior, preserving attributes this program does
// not manage, then records its calendar link.
func (s *Store) Save(ctx context.Context, t *model.Task) error {
	now := time.Now().UTC()

	s.mu.Lock()
	raw, known := s.raw[t.ID]
	if !known {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		raw = map[string]any{
			"uuid":   t.ID,
			"status": PENDING,
			"entry":  formatTime(now),
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}
	applyTask(raw, t)
	setNotes(raw, t.Description, now)
	raw["modified"] = formatTime(now)
	s.raw[t.ID] = raw
	s.mu.Unlock()

	if err := s.client.Import(ctx, raw); err != nil {
		return fmt.Errorf("importing task %s: %w", t.ID, err)
	}
	t.UpdatedAt = now

	s.index.Set(t.ID, t.ExternalID)
	if err := s.index.Save(); err != nil {
		return fmt.Errorf("saving entry index: %w", err)
	}
	return nil
}

func applyTask(raw map[string]any, t *model.Task) {
	raw["description"] = t.Title
	setTime(raw, "due", t.Due)
	setTime(raw, "scheduled", t.ScheduledAt)

	switch t.Priority {
	case model.PriorityHigh:
		raw["priority"] = "H"
	case model.PriorityLow:
		raw["priority"] = "L"
	default:
		raw["priority"] = "M"
	}

	if est := FormatDuration(t.Estimate); est != "" {
		raw["est"] = est
	} else {
		delete(raw, "est")
	}

	raw["tags"] = withTag(withTag(raw["tags"], NoSyncTag, t.LocalOnly), AllDayTag, t.AllDay)
	if tags, ok := raw["tags"].([]any); ok && len(tags) == 0 {
		delete(raw, "tags")
	}
}

// setNotes replaces the annotations with one holding notes, unless they
// already read as notes.
func setNotes(raw map[string]any, notes string, now time.Time) {
	var current []string
	list, _ := raw["annotations"].([]any)
	for _, v := range list {
		if a, ok := v.(map[string]any); ok {
			d, _ := a["description"].(string)
			current = append(current, d)
		}
	}
	if strings.Join(current, "\n") == notes {
		return
	}
	if notes == "" {
		delete(raw, "annotations")
		return
	}
	raw["annotations"] = []any{
		map[string]any{"entry": formatTime(now), "description": notes},
	}
}

func setTime(raw map[string]any, key string, v *time.Time) {
	if v == nil || v.IsZero() {
		delete(raw, key)
		return
	}
	raw[key] = formatTime(*v)
}

func withTag(existing any, tag string, present bool) []any {
	var out []any
	list, _ := existing.([]any)
	for _, v := range list {
		if s, ok := v.(string); ok && s == tag {
			continue
		}
		out = append(out, v)
	}
	if present {
		out = append(out, tag)
	}
	if out == nil {
		out = []any{}
	}
	return out
}

// Delete marks the task deleted in Taskwarrior and drops its link.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	raw, ok := s.raw[id]
	if ok {
		raw["status"] = DELETED
		raw["end"] = formatTime(time.Now())
		delete(s.raw, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not loaded", id)
	}

	if err := s.client.Import(ctx, raw); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	s.index.Remove(id)
	return s.index.Save()
}
