package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/spf13/cobra"
)

var resetDate string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset every owner's remaining budget for a day",
	Long: `Reset every tracked owner's remaining budget to the day's budget. Running it
again for the same day changes nothing, so an external scheduler may retry it.
Without --date it also records a midnight start for every instance still
running from the previous day.`,
	Example: `  quotakeeper reset
  quotakeeper reset --date 2025-03-04`,
	RunE: runReset,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one accounting and reclaim sweep",
	Long: `Account every owner's usage since local midnight into the ledger, then stop
the running instances of owners left without budget.`,
	RunE: runReconcile,
}

var midnightStartsCmd = &cobra.Command{
	Use:   "midnight-starts",
	Short: "Record a midnight start for instances running across the day boundary",
	Long: `Append a start event at today's local midnight for every running instance
whose session began before midnight. The reset command without --date already
does this; run it on its own when the ledger reset is driven elsewhere.`,
	RunE: runMidnightStarts,
}

var deferredCmd = &cobra.Command{
	Use:   "deferred",
	Short: "Run due deferred exhaustion checks",
	RunE:  runDeferred,
}

var windowEndCmd = &cobra.Command{
	Use:   "window-end",
	Short: "Stop every running instance at the end of the exclusion window",
	Long:  `Stop every running instance of every owner. Does nothing on non-working days.`,
	RunE:  runWindowEnd,
}

func init() {
	resetCmd.Flags().StringVar(&resetDate, "date", "", "Date to reset for (YYYY-MM-DD), defaults to today")

	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(midnightStartsCmd)
	rootCmd.AddCommand(deferredCmd)
	rootCmd.AddCommand(windowEndCmd)
}

// loadBatchApp loads the app with the configured logger for batch commands
func loadBatchApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	return buildApp(cfg, clock.Real{}, logger)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := loadBatchApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var n int
	if resetDate == "" {
		n, err = a.engine.ResetToday(ctx)
	} else {
		date, perr := calendar.ParseDate(resetDate)
		if perr != nil {
			return perr
		}
		n, err = a.engine.Reset(ctx, date)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Reset %d owner(s)\n", n)
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := loadBatchApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.AccountAndReclaim(context.Background())
	if encErr := printJSON(stats); encErr != nil {
		return encErr
	}
	return err
}

func runMidnightStarts(cmd *cobra.Command, args []string) error {
	a, err := loadBatchApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.RecordMidnightStarts(context.Background())
	fmt.Fprintf(os.Stdout, "Recorded %d midnight start(s)\n", n)
	return err
}

func runDeferred(cmd *cobra.Command, args []string) error {
	a, err := loadBatchApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.RunDeferred(context.Background())
	fmt.Fprintf(os.Stdout, "Ran %d deferred task(s)\n", n)
	return err
}

func runWindowEnd(cmd *cobra.Command, args []string) error {
	a, err := loadBatchApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.StopAtWindowEnd(context.Background())
	if encErr := printJSON(stats); encErr != nil {
		return encErr
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
