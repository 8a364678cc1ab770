package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "recurcal/internal/log"
	"recurcal/internal/scheduler"
	"recurcal/internal/supervisor"
	"recurcal/internal/web"
)

const runTimeout = 15 * time.Minute

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			// --listen overrides the config file.
			if listen != "" {
				cfg.Listen = listen
			}
			s, err := newSyncer(cfg)
			if err != nil {
				return err
			}
			loc, _ := cfg.Location()

			ctx, stop := commandContext(cmd)
			defer stop()

			appLog.Info("recurcal starting", "version", version, "listen", cfg.Listen, "refresh", cfg.RefreshCron, "timezone", cfg.Timezone)

			sched := scheduler.New(s, scheduler.Options{
				Spec:     cfg.RefreshCron,
				Location: loc,
				Timeout:  runTimeout,
			})

			tree := supervisor.New("recurcal", supervisor.DefaultOptions())
			tree.Add(sched)
			tree.Add(web.NewServer(cfg, sched, s))

			err = tree.Serve(ctx)
			appLog.Info("recurcal exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

// commandContext returns a context cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
