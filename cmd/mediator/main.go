package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/aimediator/mediator/internal/config"
	"github.com/aimediator/mediator/internal/debug"
	"github.com/aimediator/mediator/internal/telemetry"
)

var (
	configPath  string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	logger     = slog.New(slog.DiscardHandler)
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./mediator.yaml, $MEDIATOR_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
}

var rootCmd = &cobra.Command{
	Use:           "mediator",
	Short:         "mediator - multi-party conflict mediation coordinator",
	Long:          `Collects each participant's perspective on a conflict and, once everyone has spoken, asks a language model for personal advice for each of them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		if err := config.Initialize(configPath); err != nil {
			return err
		}
		log, level, err := debug.NewLogger(os.Stderr, debug.Options{
			Level:  config.GetString(config.KeyLogLevel),
			Format: config.GetString(config.KeyLogFormat),
		})
		if err != nil {
			return err
		}
		logger = log
		config.Watch(func(e fsnotify.Event) {
			if l, err := debug.ParseLevel(config.GetString(config.KeyLogLevel)); err == nil && !debug.Enabled() {
				level.Set(l)
				logger.Info("config reloaded", "file", e.Name, "log_level", l)
			}
		})

		return telemetry.Init(rootCtx, "mediator", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeApp()
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeApp()
		os.Exit(1)
	}
}
