// Package cli implements the stopsearch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stopsearch/internal/config"
	"stopsearch/internal/gather/police"
	"stopsearch/internal/store"
	"stopsearch/internal/util"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stopsearch",
	Short: "Keep a local copy of police stop-and-search records up to date",
	Long: `stopsearch fetches the months missing from a local stop-and-search
dataset from data.police.uk, merges them in and saves the result.

Run without a subcommand to perform one synchronisation pass.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runSync,
}

// Execute runs the root command. Only configuration and setup failures are
// returned; sync failures are logged.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $STOPSEARCH_CONFIG or "+config.DefaultPath+")")
	rootCmd.AddCommand(syncCmd, gapsCmd, versionCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch missing months and update the local dataset",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

// app holds everything a command needs after setup.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	updater *police.Updater
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}

// loadConfig resolves the config path. An explicitly named file must exist;
// the default file may be absent.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	if p := os.Getenv("STOPSEARCH_CONFIG"); p != "" {
		return config.Load(p)
	}
	return config.LoadOrDefault(config.DefaultPath)
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	w, logCloser, err := util.OpenLogOutput(cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	a := &app{cfg: cfg, log: logger, closers: []io.Closer{logCloser}}

	floor, err := cfg.EpochFloor()
	if err != nil {
		a.Close()
		return nil, err
	}

	var ledger store.Ledger = store.NopLedger{}
	if cfg.Storage.LedgerPath != "" {
		l, err := store.NewSQLiteLedger(cfg.Storage.LedgerPath)
		if err != nil {
			// Run history is optional; sync still works without it.
			logger.Warn("ledger unavailable, continuing without run history", "path", cfg.Storage.LedgerPath, "error", err)
		} else {
			ledger = l
			a.closers = append(a.closers, l)
		}
	}

	client := police.NewClient(cfg.Source, logger)
	ds := store.NewFileStore(cfg.Storage.DatasetPath, floor, logger)
	a.updater = police.NewUpdater(cfg.Source.ForceID, client, ds, ledger, logger)
	a.updater.SetDedupe(cfg.DedupeEnabled(), cfg.Sync.DedupeKeys)
	return a, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a.log.Info("starting gatherer", "name", a.updater.Name(), "dataset", a.cfg.Storage.DatasetPath)
	if err := a.updater.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.log.Warn("sync interrupted", "error", err)
			return nil
		}
		a.log.Error("an unexpected error occurred", "error", err)
	}
	return nil
}
