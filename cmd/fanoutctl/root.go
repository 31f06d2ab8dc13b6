package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/app"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/pkg/config"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

var (
	configFile string
	verbose    bool

	// svc is opened before every subcommand and closed after it.
	svc *app.App
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fanoutctl",
	Short: "Operate on the fan-out timeline store",
	Long: `fanoutctl drives the same store and services as the API server:
create profiles and posts, follow and like on behalf of a user, read
timelines and repair derived state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		if err := logger.Init(cfg.Env, level); err != nil {
			return err
		}
		svc, err = app.Open(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if svc != nil {
			svc.Close()
			svc = nil
		}
		logger.Sync()
	},
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if svc != nil {
			svc.Close()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// printJSON writes v to stdout, indented.
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// tolerateDrift reports a counter that did not follow its primary write and
// lets the command succeed, since the primary write committed.
func tolerateDrift(cmd *cobra.Command, err error) error {
	var drift *repositories.CounterDriftError
	if errors.As(err, &drift) {
		logger.Log.Warn("counter_drift", zap.String("location", drift.Location), zap.Error(drift.Err))
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v (run `fanoutctl reconcile` to repair)\n", err)
		return nil
	}
	return err
}
