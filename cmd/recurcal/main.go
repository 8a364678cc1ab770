package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recurcal/internal/config"
	appLog "recurcal/internal/log"
	"recurcal/internal/notion"
	"recurcal/internal/syncer"
)

const version = "0.1.0"

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "recurcal",
		Short:         "Materialize recurring events in a Notion database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/recurcal/config.yaml", "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPreviewCommand(opts))
	return cmd
}

// loadConfig reads and validates the config and configures logging from it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	level := appLog.ParseLevel(cfg.Log.Level)
	if opts.verbose {
		level = appLog.LevelDebug
	}
	appLog.Configure(appLog.Options{Level: level, Format: cfg.Log.Format})
	for _, w := range cfg.Warnings() {
		appLog.Warn("config: " + w)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appLog.Debug("effective config", "config", cfg.String())
	return cfg, nil
}

func newSyncer(cfg *config.Config) (*syncer.Syncer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	client := notion.NewClient(notion.Options{
		Token:             cfg.Notion.Token,
		BaseURL:           cfg.Notion.BaseURL,
		Version:           cfg.Notion.Version,
		RequestsPerSecond: cfg.Notion.RequestsPerSecond,
		MaxRetries:        cfg.Notion.MaxRetries,
	})
	return syncer.New(client, syncer.Options{
		DatabaseID:  cfg.Notion.DatabaseID,
		Names:       cfg.Properties,
		Lookback:    cfg.Sync.Lookback(),
		Lookahead:   cfg.Sync.Lookahead(),
		Location:    loc,
		Cutoff:      cfg.Sync.RolloutCutoff,
		SyncContent: cfg.Sync.Content(),
	}), nil
}
