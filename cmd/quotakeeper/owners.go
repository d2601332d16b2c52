package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/quotakeeper/internal/engine"
	"github.com/spf13/cobra"
)

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage instance ownership and inspect budgets",
}

var ownersAssignCmd = &cobra.Command{
	Use:   "assign ENTITY OWNER",
	Short: "Make OWNER the owner of ENTITY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Ownership().Assign(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		a.ownership.Invalidate(args[0])
		fmt.Fprintf(os.Stdout, "%s is now owned by %s\n", args[0], args[1])
		return nil
	},
}

var ownersReleaseCmd = &cobra.Command{
	Use:   "release ENTITY",
	Short: "Remove ENTITY from the ownership directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Ownership().Release(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to release %s: %w", args[0], err)
		}
		a.ownership.Invalidate(args[0])
		fmt.Fprintf(os.Stdout, "%s released\n", args[0])
		return nil
	},
}

var ownersShowCmd = &cobra.Command{
	Use:   "show [OWNER]",
	Short: "Show remaining budget for one or every owner",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOwnersShow,
}

var ownersSetRemainingCmd = &cobra.Command{
	Use:     "set-remaining OWNER DURATION",
	Short:   "Override an owner's remaining budget for today",
	Long:    `Override an owner's remaining budget for today. The value is clamped to today's budget.`,
	Example: `  quotakeeper owners set-remaining alice 1h30m`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remaining, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		a, err := loadApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		return a.engine.Ledger.Set(context.Background(), args[0], remaining, time.Now())
	},
}

func init() {
	ownersCmd.AddCommand(ownersAssignCmd)
	ownersCmd.AddCommand(ownersReleaseCmd)
	ownersCmd.AddCommand(ownersShowCmd)
	ownersCmd.AddCommand(ownersSetRemainingCmd)
	rootCmd.AddCommand(ownersCmd)
}

func runOwnersShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var statuses []*engine.OwnerStatus

	if len(args) == 1 {
		status, err := a.engine.Status(ctx, args[0], true)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	} else {
		owners, err := a.store.Ownership().Owners(ctx)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			status, err := a.engine.Status(ctx, owner, true)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
	}

	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tREMAINING\tBUDGET\tCHARGED\tINSTANCES")
	for _, s := range statuses {
		instances := ""
		for i, e := range s.Entities {
			if i > 0 {
				instances += ", "
			}
			instances += fmt.Sprintf("%s (%s)", e.EntityID, e.State)
		}

		remaining := green.Sprint(s.Remaining.Truncate(time.Second))
		if s.Exhausted {
			remaining = red.Sprint("exhausted")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.OwnerID, remaining, s.Budget, s.Charged.Truncate(time.Second), instances)
	}
	return w.Flush()
}
