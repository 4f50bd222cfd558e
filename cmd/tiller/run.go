package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seedrift/tiller/internal/agent"
	"github.com/seedrift/tiller/internal/config"
	"github.com/seedrift/tiller/internal/engine"
	"github.com/seedrift/tiller/internal/ticket"
)

var (
	runParallel    bool
	runPRs         bool
	runMaxPRs      int
	runCrossVerify bool
	runMemoryStore bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive one improvement session",
	Long: `Run starts an improvement session against the repository: scout for
candidate work, plan, execute, and verify each ticket, and stop when the
budgets are spent, the repository is exhausted, or the kill-switch file
appears. Ctrl-C stops cooperatively at the next checkpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runParallel {
			cfg.Parallel.Enabled = true
		}

		store, err := openTicketStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		worker := &engine.AgentWorker{
			Invoker: &agent.ExecInvoker{
				Command: cfg.Agent.Command,
				Args:    cfg.Agent.Args,
			},
			WorkDir: repoRoot(cfg),
			Timeout: cfg.AgentTimeout(),
		}

		eng, err := engine.New(engine.Options{
			Config:      cfg,
			Store:       store,
			Worker:      worker,
			Logger:      newLogger(cfg),
			PublishPRs:  runPRs,
			MaxPRs:      runMaxPRs,
			CrossVerify: runCrossVerify,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		state, err := eng.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s finished in phase %s\n", state.RunID, state.Phase)
		fmt.Printf("  completed: %d  failed: %d  blocked: %d\n",
			state.TotalCompleted, state.TotalFailed, state.TotalBlocked)
		if state.PRsCreated > 0 {
			fmt.Printf("  pull requests: %d\n", state.PRsCreated)
			for _, url := range state.PRURLs {
				fmt.Printf("    %s\n", url)
			}
		}
		fmt.Printf("  coverage: %d/%d sectors scanned\n",
			state.Coverage.ScannedSectors, state.Coverage.TotalSectors)
		return nil
	},
}

// openTicketStore picks the configured ticket backend: SQLite unless the
// memory store is forced.
func openTicketStore(cfg *config.Config) (ticket.Store, error) {
	if runMemoryStore || cfg.Store.Memory || cfg.Store.TicketDB == "" {
		return ticket.NewMemStore(), nil
	}
	path := cfg.Store.TicketDB
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot(cfg), path)
	}
	store, err := ticket.OpenSQLite(path, 2)
	if err != nil {
		return nil, fmt.Errorf("open ticket store %s: %w", path, err)
	}
	return store, nil
}

func init() {
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Execute conflict-free tickets concurrently")
	runCmd.Flags().BoolVar(&runPRs, "prs", false, "Publish completed tickets as pull requests")
	runCmd.Flags().IntVar(&runMaxPRs, "max-prs", 5, "Pull request cap when --prs is set")
	runCmd.Flags().BoolVar(&runCrossVerify, "cross-verify", false, "Verify parallel tickets a second time before accepting")
	runCmd.Flags().BoolVar(&runMemoryStore, "memory", false, "Keep tickets in memory instead of SQLite")
	rootCmd.AddCommand(runCmd)
}
