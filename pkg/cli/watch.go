package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync now and then on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if spec == "" {
				spec = a.cfg.SyncCron
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return a.watch(ctx, cmd, spec)
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "Cron schedule (overrides sync_cron)")
	return cmd
}

// watch runs one sync immediately and then one per cron tick. Runs never
// overlap; a tick arriving mid-run is skipped.
func (a *app) watch(ctx context.Context, cmd *cobra.Command, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	run := func() {
		if err := a.sync(cmd); err != nil {
			a.logger.Error("sync failed", "err", err)
		}
	}
	if _, err := c.AddFunc(spec, run); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	a.logger.Info("watching", "schedule", spec)
	run()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("watch stopped")
	return nil
}
