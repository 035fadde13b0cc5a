package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kranthiB/kubepilot/internal/config"
	"github.com/kranthiB/kubepilot/internal/state"
	"github.com/kranthiB/kubepilot/pkg/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent plan runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := state.Open(historyDBPath(cfg))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()

		runs, err := db.RecentRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			var status string
			switch models.PlanStatus(r.Status) {
			case models.PlanStatusSucceeded:
				status = color.GreenString(r.Status)
			case models.PlanStatusFailed:
				status = color.RedString(r.Status)
			case models.PlanStatusBlocked, models.PlanStatusCanceled:
				status = color.YellowString(r.Status)
			default:
				status = r.Status
			}
			fmt.Printf("%s  %-9s  %-18s  %s (%d ok, %d failed, %d blocked, %d skipped, %s)\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				status, r.Category, r.Goal,
				r.Succeeded, r.Failed, r.Blocked, r.Skipped,
				r.Duration.Round(time.Millisecond))
		}
		return nil
	},
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete runs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := state.Open(historyDBPath(cfg))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()

		n, err := db.Purge(cfg.History.Retention)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d runs older than %s.\n", n, cfg.History.Retention)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show")
	historyCmd.AddCommand(historyPurgeCmd)
}
