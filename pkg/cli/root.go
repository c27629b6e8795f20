// Package cli is the taskplan command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	calendar   string
	backend    string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "taskplan",
		Short: "Schedule tasks into free calendar time and keep them in sync",
		Long: `taskplan places tasks with an estimate and a due date into free time on
your calendar, and keeps a local task list and the calendar consistent.

Configuration lives in ~/.config/taskplan/config.yaml.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config.yaml (default ~/.config/taskplan/config.yaml)")
	flags.StringVar(&opts.calendar, "calendar", "", "Google Calendar name to sync with (overrides config)")
	flags.StringVar(&opts.backend, "backend", "", "Calendar backend: google or ics (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(authCmd(opts))
	rootCmd.AddCommand(setCalendarCmd(opts))
	rootCmd.AddCommand(addCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(scheduleCmd(opts))
	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(unlinkCmd(opts))
	rootCmd.AddCommand(removeCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context, version string) error {
	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
