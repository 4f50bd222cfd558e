package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/seedrift/tiller/internal/sector"
)

var sectorsCmd = &cobra.Command{
	Use:   "sectors",
	Short: "Show sector coverage and scheduling state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state, err := sector.LoadState(repoRoot(cfg))
		if err != nil {
			return err
		}
		if len(state.Sectors) == 0 {
			fmt.Println("No sectors recorded yet. Run a session first.")
			return nil
		}

		cov := state.ComputeCoverage()
		fmt.Printf("Coverage: %d/%d production sectors scanned (%d/%d files)\n",
			cov.ScannedSectors, cov.TotalSectors, cov.ScannedFiles, cov.TotalFiles)
		fmt.Printf("Scope recommendation: %s\n\n", state.SuggestScopeAdjustment())

		sectors := append([]sector.Sector(nil), state.Sectors...)
		sort.Slice(sectors, func(i, j int) bool {
			return sectors[i].Path < sectors[j].Path
		})

		fmt.Printf("%-30s %-10s %-6s %6s %6s %7s %7s\n",
			"PATH", "PURPOSE", "PROD", "SCANS", "YIELD", "SUCCESS", "FAIL")
		for _, s := range sectors {
			prod := "no"
			if s.Production {
				prod = "yes"
			}
			path := s.Path
			if s.PolishedAt != nil {
				path += " *"
			}
			fmt.Printf("%-30s %-10s %-6s %6d %6.2f %7.1f %7.1f\n",
				path, s.Purpose, prod, s.ScanCount, s.ProposalYield,
				s.SuccessCount, s.FailureCount)
		}
		fmt.Println("\n* polished (scanned to exhaustion)")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sectorsCmd)
}
