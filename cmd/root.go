// Package cmd is the agent's cobra command tree, mirroring this
// codebase's cmd_root.go persistent-flag-plus-viper pattern:
// PersistentPreRunE builds the process logger for every subcommand,
// and the subcommands that need identity.Config load it themselves
// through loadConfig.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dms-agent/identity"
	"github.com/rustyeddy/dms-agent/logging"
)

var (
	cmdOutput io.Writer

	configPath string
	logLevel   string
	logFormat  string
	logOutput  string
	logFile    string

	cfg identity.Config
)

var rootCmd = &cobra.Command{
	Use:           "agent",
	Short:         "DMS device agent: connects an embedded device to the Device Management Service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return buildLogger()
	},
}

func init() {
	cmdOutput = os.Stdout
	rootCmd.SetOut(cmdOutput)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the agent config YAML file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logging.DefaultLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.DefaultFormat, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", logging.DefaultOutput, "log output (stdout, stderr, file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (required when log-output=file)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fleetSimCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildLogger installs the process-wide slog logger from the
// persistent --log-* flags. It runs for every subcommand, including
// ones (version, shell) that never touch identity.Config.
func buildLogger() error {
	logCfg := logging.Config{Level: logLevel, Format: logFormat, Output: logOutput, FilePath: logFile}
	logger, _, _, err := logging.Build(logCfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	level, _ := logging.ParseLevel(logLevel)
	logging.ApplyGlobal(logger, level)
	return nil
}

// loadConfig loads identity.Config from --config; called by the
// subcommands that actually need a device identity and endpoints
// (run, fleet-sim), not by version or shell.
func loadConfig() (identity.Config, error) {
	loaded, err := identity.Load(configPath)
	if err != nil {
		return identity.Config{}, fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded
	return cfg, nil
}

// GetRootCmd returns the root command, exported for tests that want to
// drive the tree with rootCmd.Execute() without exporting rootCmd
// itself.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// Execute runs the command tree; call from cmd/agent/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
