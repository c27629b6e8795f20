package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskplan/pkg/auth"
	"github.com/harrisonrobin/taskplan/pkg/config"
	"github.com/harrisonrobin/taskplan/pkg/google"
	"github.com/harrisonrobin/taskplan/pkg/logging"
	"github.com/harrisonrobin/taskplan/pkg/model"
	"github.com/harrisonrobin/taskplan/pkg/scheduler"
)

func authCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Calendar",
		Long:  "Discards any stored token and runs the browser authorization flow. credentials.json must be in the config directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
			if err := auth.Authenticate(cmd.Context(), dir, google.Scopes, cmd.OutOrStdout(), logger); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authentication successful! Token saved to %s\n", filepath.Join(dir, auth.TokenFile))
			return nil
		},
	}
}

func setCalendarCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-calendar <name>",
		Short: "Set the default Google Calendar name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				p, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg.Calendar = args[0]
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default calendar set to: %s\n", args[0])
			return nil
		},
	}
}

type addOptions struct {
	notes     string
	estimate  time.Duration
	due       string
	priority  string
	allDay    bool
	localOnly bool
	schedule  bool
}

func addCmd(opts *rootOptions) *cobra.Command {
	o := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := model.ParsePriority(o.priority)
			if err != nil {
				return err
			}
			task := &model.Task{
				Title:       strings.Join(args, " "),
				Description: o.notes,
				Estimate:    o.estimate,
				Priority:    prio,
				AllDay:      o.allDay,
				LocalOnly:   o.localOnly,
			}
			if o.due != "" {
				due, err := parseDue(o.due, time.Local)
				if err != nil {
					return err
				}
				task.Due = &due
			}

			a, err := newApp(cmd, opts, o.schedule)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Save(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added task %s\n", shortID(task.ID))
			if o.schedule {
				return a.schedule(cmd, task)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.notes, "notes", "n", "", "Task description")
	f.DurationVarP(&o.estimate, "estimate", "e", 0, "Estimated duration, e.g. 90m")
	f.StringVarP(&o.due, "due", "d", "", "Due date: 2006-01-02, '2006-01-02 15:04' or RFC3339")
	f.StringVarP(&o.priority, "priority", "p", "medium", "Priority: low, medium, high")
	f.BoolVar(&o.allDay, "all-day", false, "Mirror as an all-day entry")
	f.BoolVar(&o.localOnly, "local-only", false, "Never push this task to the calendar")
	f.BoolVarP(&o.schedule, "schedule", "s", false, "Book a slot right away")
	return cmd
}

var dueLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04", time.DateOnly}

// parseDue accepts RFC3339 or a local date with optional time.
func parseDue(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", s)
}

func listCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.Load(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRI\tEST\tDUE\tSCHEDULED\tLINKED\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(t.ID), t.Priority, formatEstimate(t.Estimate),
					formatTime(t.Due), formatTime(t.ScheduledAt), linkState(t), t.Title)
			}
			return tw.Flush()
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatEstimate(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func linkState(t *model.Task) string {
	switch {
	case t.LocalOnly:
		return "local"
	case t.Linked():
		return "yes"
	default:
		return "no"
	}
}

func scheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <id>",
		Short: "Book the best free slot before the task's due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.loadTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.schedule(cmd, task)
		},
	}
}

func (a *app) schedule(cmd *cobra.Command, task *model.Task) error {
	stop := a.watchStatus()
	res := a.scheduler().ScheduleTask(cmd.Context(), task, a.cfg.Preferences)
	stop()

	switch res.Outcome {
	case scheduler.OutcomeScheduled:
		if err := a.store.Save(cmd.Context(), task); err != nil {
			return fmt.Errorf("entry created but task not saved: %w", err)
		}
		fmt.Fprintf(a.out, "Scheduled %s: %s - %s\n", shortID(task.ID),
			res.Block.Start.Local().Format("Mon 2006-01-02 15:04"), res.Block.End.Local().Format("15:04"))
		return nil
	case scheduler.OutcomeNoSlot:
		return errors.New("no free slot before the due date")
	default:
		return fmt.Errorf("%s: %w", res.Outcome, res.Err)
	}
}

func syncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push tasks to the calendar and import new calendar entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.sync(cmd)
		},
	}
}

func (a *app) sync(cmd *cobra.Command) error {
	stop := a.watchStatus()
	res, err := a.reconciler().Run(cmd.Context())
	stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sync complete: %d created, %d updated, %d deleted\n", res.Created, res.Updated, res.Deleted)
	return nil
}

func unlinkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <id>",
		Short: "Remove the task's calendar entry but keep the task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.loadTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.reconciler().RemoveTask(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Unlinked %s\n", shortID(task.ID))
			return nil
		},
	}
}

func removeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a task and its calendar entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.loadTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.reconciler().RemoveTask(cmd.Context(), task); err != nil {
				return err
			}
			if err := a.store.Delete(cmd.Context(), task.ID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %s\n", shortID(task.ID))
			return nil
		},
	}
}
