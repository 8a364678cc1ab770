package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recurcal/internal/ics"
)

func newPreviewCommand(root *rootOptions) *cobra.Command {
	var asICS bool

	cmd := &cobra.Command{
		Use:   "preview <page-id>",
		Short: "Show the occurrences a template would produce, without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			now := time.Now()
			src, occ, err := s.Preview(ctx, args[0], now)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asICS {
				_, err := w.Write(ics.Encode(ics.Feed{Name: src.Name, Stamp: now, Occurrences: occ}))
				return err
			}
			fmt.Fprintf(w, "%s (%s, every %d, %d ahead)\n", src.Name, src.Frequency, src.Cadence, src.Lookahead)
			for _, o := range occ {
				if o.AllDay {
					fmt.Fprintf(w, "  %s\n", o.Start.Format("Mon 2006-01-02"))
					continue
				}
				fmt.Fprintf(w, "  %s - %s\n", o.Start.Format("Mon 2006-01-02 15:04 MST"), o.End.Format("15:04"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asICS, "ics", false, "print as iCalendar")
	return cmd
}
