package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ticketsStatus string

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List work items for the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openTicketStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		tickets, err := store.ListByProject(cmd.Context(), cfg.Project)
		if err != nil {
			return err
		}
		if ticketsStatus != "" {
			filtered := tickets[:0]
			for _, t := range tickets {
				if t.Status == ticketsStatus {
					filtered = append(filtered, t)
				}
			}
			tickets = filtered
		}
		if len(tickets) == 0 {
			fmt.Println("No tickets found.")
			return nil
		}

		fmt.Printf("%-38s %-12s %-10s %-10s %s\n", "ID", "STATUS", "CATEGORY", "SECTOR", "TITLE")
		for _, t := range tickets {
			fmt.Printf("%-38s %-12s %-10s %-10s %s\n",
				t.ID, t.Status, t.Category, t.SectorPath, t.Title)
		}
		return nil
	},
}

func init() {
	ticketsCmd.Flags().StringVar(&ticketsStatus, "status", "", "Filter by ticket status")
	rootCmd.AddCommand(ticketsCmd)
}
