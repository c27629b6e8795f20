package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskplan/pkg/auth"
	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/config"
	"github.com/harrisonrobin/taskplan/pkg/google"
	"github.com/harrisonrobin/taskplan/pkg/ics"
	"github.com/harrisonrobin/taskplan/pkg/index"
	"github.com/harrisonrobin/taskplan/pkg/logging"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/reconcile"
	"github.com/harrisonrobin/taskplan/pkg/scheduler"
	"github.com/harrisonrobin/taskplan/pkg/status"
	"github.com/harrisonrobin/taskplan/pkg/store"
	"github.com/harrisonrobin/taskplan/pkg/taskwarrior"
)

// taskStore is a model.Store that can also forget tasks.
type taskStore interface {
	model.Store
	Delete(ctx context.Context, id string) error
}

// app holds the services one command invocation needs.
type app struct {
	cfg     *config.Config
	dir     string
	logger  *slog.Logger
	out     io.Writer
	store   taskStore
	cal     calendar.Calendar
	tracker *status.Tracker
	closers []io.Closer
}

// loadConfig reads the config selected by the persistent flags and applies
// flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return nil, "", fmt.Errorf("could not find path to configuration file: %w", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if opts.calendar != "" {
		cfg.Calendar = opts.calendar
	}
	if opts.backend != "" {
		cfg.Backend = strings.ToLower(opts.backend)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(path), nil
}

// newApp wires the store and, when withCalendar is set, the calendar
// backend.
func newApp(cmd *cobra.Command, opts *rootOptions, withCalendar bool) (*app, error) {
	cfg, dir, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		dir:     dir,
		logger:  logging.New(cfg.LogLevel, cmd.ErrOrStderr()),
		out:     cmd.OutOrStdout(),
		tracker: status.NewTracker(),
	}

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}
	if withCalendar {
		if err := a.openCalendar(cmd.Context(), cmd.ErrOrStderr()); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store {
	case config.StoreTaskwarrior:
		idx, err := index.Open(a.cfg.IndexPath)
		if err != nil {
			return fmt.Errorf("failed to initialize entry index: %w", err)
		}
		a.store = taskwarrior.NewStore(taskwarrior.NewClient(nil), idx, a.logger)
	default:
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0700); err != nil {
			return err
		}
		s, err := store.NewSQLiteStore(a.cfg.DBPath)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s)
	}
	return nil
}

func (a *app) openCalendar(ctx context.Context, prompt io.Writer) error {
	switch a.cfg.Backend {
	case config.BackendICS:
		c, err := ics.Open(a.cfg.ICSPath, a.logger)
		if err != nil {
			return err
		}
		a.cal = c
	default:
		httpClient, err := auth.GetClient(ctx, a.dir, google.Scopes, prompt, a.logger)
		if err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		srv, err := google.NewService(ctx, httpClient)
		if err != nil {
			return err
		}
		c, err := google.NewClient(ctx, srv, a.cfg.Calendar, a.cfg.BusyCalendars, a.logger)
		if err != nil {
			return fmt.Errorf("error creating Google Calendar client: %w", err)
		}
		a.cal = c
	}
	return nil
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.cal,
		scheduler.WithLogger(a.logger),
		scheduler.WithAccessTimeout(a.cfg.AccessTimeout),
		scheduler.WithHorizon(a.cfg.ScheduleHorizonDays),
		scheduler.WithTracker(a.tracker),
	)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.cal, a.store,
		reconcile.WithLogger(a.logger),
		reconcile.WithAccessTimeout(a.cfg.AccessTimeout),
		reconcile.WithPullMonths(a.cfg.PullMonths),
		reconcile.WithTracker(a.tracker),
	)
}

// watchStatus logs tracker transitions until the returned func is called.
func (a *app) watchStatus() func() {
	ch, unsubscribe := a.tracker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range ch {
			a.logger.Debug("status", "state", st.String())
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

var errAmbiguous = errors.New("ambiguous task reference")

// findTask resolves ref as a full id or a unique id prefix.
func findTask(tasks []*model.Task, ref string) (*model.Task, error) {
	if ref == "" {
		return nil, errors.New("empty task reference")
	}
	var matches []*model.Task
	for _, t := range tasks {
		if t.ID == ref {
			return t, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no task matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d tasks", errAmbiguous, ref, len(matches))
	}
}

func (a *app) loadTask(ctx context.Context, ref string) (*model.Task, error) {
	tasks, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return findTask(tasks, ref)
}
