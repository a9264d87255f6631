package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"atlas/internal/app"
	"atlas/internal/config"
)

func newWatchCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the collection up to date and report every change",
		Long:  "Scan the configured roots, then watch them (and optionally poll) and print one line per collection generation until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Watch.Enabled = true
			if poll, _ := cmd.Flags().GetDuration("poll"); poll > 0 {
				cfg.PollInterval, cfg.PollCron = poll, ""
			}
			if expr, _ := cmd.Flags().GetString("poll-cron"); expr != "" {
				cfg.PollInterval, cfg.PollCron = 0, expr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return e.watch(ctx, cmd, cfg)
		},
	}
	cmd.Flags().Duration("poll", 0, "also rescan every interval (0 disables polling)")
	cmd.Flags().String("poll-cron", "", "also rescan on a six-field cron expression")
	return cmd
}

func (e *env) watch(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	a, err := app.New(cfg, e.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	coll := a.Collection()
	sub, err := coll.Subscribe(func(gen, prev uint64) error {
		_, err := fmt.Fprintf(out, "%s generation %d -> %d, %d sources\n",
			time.Now().Format(time.TimeOnly), prev, gen, coll.Snapshot().Len())
		return err
	})
	if err != nil {
		return err
	}
	defer coll.Unsubscribe(sub)

	if err := a.Start(ctx); err != nil {
		return err
	}
	if !a.Polling() {
		_, _ = fmt.Fprintln(out, "polling off, watching for changes")
	}
	for _, j := range a.Jobs() {
		next := "-"
		if !j.NextRun.IsZero() {
			next = j.NextRun.Format(time.TimeOnly)
		}
		_, _ = fmt.Fprintf(out, "job %s: %s, next run %s\n", j.Name, j.Schedule, next)
	}
	<-ctx.Done()
	return nil
}
