// Command synchro runs the distributed highway simulation, either with every
// participant in one process or as separate processes joined by a relay.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/banshee-data/synchro/internal/config"
	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/version"
)

var (
	verbose bool
	cfgPath string

	logger        *zap.Logger
	restoreLogger func()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "synchro",
		Short: "Lock-step distributed vehicle simulation",
		Long: `synchro advances one agent per participant in fixed heartbeats and
exchanges their state after every tick, so each participant sees every other
vehicle as a read-only proxy.

Use "run" for a single-process simulation, or start a "relay" and one
"participant" per rank for a multi-process one.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zc := zap.NewProductionConfig()
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			restoreLogger = monitoring.UseZap(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if restoreLogger != nil {
				restoreLogger()
			}
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable per-tick debug logging")
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigPath, "Run configuration (.json, .yaml or .yml)")
	addOverrideFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd())
	root.AddCommand(newRelayCmd())
	root.AddCommand(newParticipantCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Root().Version)
		},
	})
	return root
}

// loadConfig reads the configuration file and applies command-line
// overrides. A missing default file is not an error.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	cfg := config.EmptyRunConfig()
	explicit := cmd.Flags().Changed("config")
	if cfgPath != "" {
		loaded, err := config.LoadRunConfig(cfgPath)
		switch {
		case err == nil:
			cfg = loaded
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	ov, err := overrides(cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg.Merge(ov)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
