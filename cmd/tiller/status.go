package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seedrift/tiller/internal/run"
	"github.com/seedrift/tiller/internal/storage"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last persisted run state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root := repoRoot(cfg)

		state, found, err := latestRunState(root)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		if statusJSON {
			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Run:        %s\n", state.RunID)
		fmt.Printf("Project:    %s\n", state.Project)
		fmt.Printf("Phase:      %s\n", state.Phase)
		fmt.Printf("Steps:      %d\n", state.Step)
		fmt.Printf("Outcomes:   %d completed, %d failed, %d blocked\n",
			state.TotalCompleted, state.TotalFailed, state.TotalBlocked)
		if state.PRsCreated > 0 {
			fmt.Printf("PRs:        %d\n", state.PRsCreated)
		}
		if state.CurrentTicketID != "" {
			fmt.Printf("Ticket:     %s\n", state.CurrentTicketID)
		}
		fmt.Printf("Coverage:   %d/%d sectors, %d/%d files\n",
			state.Coverage.ScannedSectors, state.Coverage.TotalSectors,
			state.Coverage.ScannedFiles, state.Coverage.TotalFiles)
		fmt.Printf("Started:    %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:    %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05"))
		if state.Ended {
			fmt.Println("Ended:      yes")
		}
		return nil
	},
}

// latestRunState loads every recorded run and returns the most recently
// updated one. Run ids are UUIDs, so directory order says nothing about
// recency.
func latestRunState(root string) (run.RunState, bool, error) {
	ids, err := storage.ListRuns(root)
	if err != nil {
		return run.RunState{}, false, err
	}
	var (
		latest run.RunState
		found  bool
	)
	for _, id := range ids {
		state, err := run.LoadState(root, id)
		if err != nil {
			VerbosePrintf("Warning: unreadable run %s: %v\n", id, err)
			continue
		}
		if !found || state.UpdatedAt.After(latest.UpdatedAt) {
			latest = state
			found = true
		}
	}
	return latest, found, nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw run state as JSON")
	rootCmd.AddCommand(statusCmd)
}
