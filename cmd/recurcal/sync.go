package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"recurcal/internal/syncer"
)

var errRunFailed = errors.New("sync run failed")

func newSyncCommand(root *rootOptions) *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print its summary",
		Long: `Run one sync pass against the configured database and print the
summary as JSON. Manual mode processes records flagged as recurring
sources; --auto extends the latest record of every series instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			s, err := newSyncer(cfg)
			if err != nil {
				return err
			}
			ctx, stop := commandContext(cmd)
			defer stop()

			mode := syncer.ModeManual
			if auto {
				mode = syncer.ModeAutomatic
			}
			sum := s.Run(ctx, mode, time.Now())

			out, err := json.MarshalIndent(sum, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !sum.Success {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "automatic mode: extend every series")
	return cmd
}
