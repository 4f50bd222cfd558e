package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seedrift/tiller/internal/config"
)

var (
	// Global flags
	verbose  bool
	cfgFile  string
	stateDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tiller",
	Short: "Autonomous repository improvement loop",
	Long: `tiller drives a coding agent through an autonomous improvement loop:
it scouts the repository for candidate work, turns proposals into tickets,
then plans, executes, and verifies each one under scope and budget limits.

Core Commands:
  run          Drive one improvement session
  status       Show the last persisted run state
  sectors      Show sector coverage and scheduling state
  tickets      List work items for the project
  version      Show version information`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .tiller/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Repository root holding the .state directory")
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("TILLER_CONFIG", path)
}

// loadConfig resolves the effective configuration with flag overrides on top.
func loadConfig() (*config.Config, error) {
	overrides := &config.Config{
		WorktreeRoot: stateDir,
		Verbose:      verbose,
	}
	return config.Load(overrides)
}

// repoRoot is the repository root every command operates on.
func repoRoot(cfg *config.Config) string {
	if cfg.WorktreeRoot != "" {
		return cfg.WorktreeRoot
	}
	return "."
}

// newLogger builds the command's logger: text to stderr, debug when verbose,
// silent otherwise unless requested.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}
