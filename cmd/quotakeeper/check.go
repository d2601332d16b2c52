package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/policy"
	"github.com/spf13/cobra"
)

var (
	checkOwner   string
	checkAt      string
	checkRefresh bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check policy decisions interactively",
	Long:  `Check whether a start or stop request would be allowed, without acting on it.`,
}

var checkStartCmd = &cobra.Command{
	Use:   "start [flags] ENTITY",
	Short: "Check whether an owner may start an instance",
	Example: `  quotakeeper check start --owner alice i-0abc123
  quotakeeper check start --owner alice --at "2025-03-04 20:00" i-0abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(policy.ActionStart, args[0])
	},
}

var checkStopCmd = &cobra.Command{
	Use:     "stop [flags] ENTITY",
	Short:   "Check whether an owner may stop an instance",
	Example: `  quotakeeper check stop --owner alice i-0abc123`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(policy.ActionStop, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{checkStartCmd, checkStopCmd} {
		c.Flags().StringVar(&checkOwner, "owner", "", "Requesting owner (required)")
		c.Flags().StringVar(&checkAt, "at", "", "Evaluate as of local time \"YYYY-MM-DD HH:MM\", defaults to now")
		c.Flags().BoolVar(&checkRefresh, "refresh", true, "Reconcile the owner's usage before deciding (ignored with --at)")
		_ = c.MarkFlagRequired("owner")
		checkCmd.AddCommand(c)
	}
	rootCmd.AddCommand(checkCmd)
}

func runCheck(action policy.Action, entityID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	var clk clock.Clock = clock.Real{}
	if checkAt != "" {
		at, err := time.ParseInLocation("2006-01-02 15:04", checkAt, loc)
		if err != nil {
			return fmt.Errorf("invalid --at %q: %w", checkAt, err)
		}
		clk = clock.NewFixed(at)
	}

	a, err := buildApp(cfg, clk, quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	if checkRefresh && checkAt == "" && action == policy.ActionStart {
		if owner, err := a.ownership.OwnerOf(ctx, entityID); err == nil && owner == checkOwner {
			if _, err := a.engine.ReconcileOwner(ctx, owner); err != nil {
				color.New(color.FgYellow).Printf("Warning: could not refresh usage: %v\n", err)
			}
		}
	}

	var d policy.Decision
	if action == policy.ActionStart {
		d, err = a.gate.CanStart(ctx, checkOwner, entityID)
	} else {
		d, err = a.gate.CanStop(ctx, checkOwner, entityID)
	}
	if err != nil {
		return fmt.Errorf("temporarily unavailable, try again: %w", err)
	}

	printDecision(d, clk.Now().In(loc))
	return nil
}

// printDecision prints the check result with colors
func printDecision(d policy.Decision, at time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Printf("%s POLICY CHECK\n", map[policy.Action]string{policy.ActionStart: "START", policy.ActionStop: "STOP"}[d.Action])
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Entity:     %s\n", d.EntityID)
	fmt.Printf("Requester:  %s\n", d.Requester)
	if d.OwnerID != "" {
		fmt.Printf("Owner:      %s\n", d.OwnerID)
	} else {
		fmt.Printf("Owner:      (not registered)\n")
	}
	fmt.Printf("State:      %s\n", d.State)
	if d.Action == policy.ActionStart {
		fmt.Printf("Remaining:  %s\n", d.Remaining.Truncate(time.Second))
	}
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	cyan.Print("Decision:   ")
	if d.Allowed {
		green.Println("ALLOW")
	} else {
		red.Println("DENY")
		fmt.Printf("Reason:     %s\n", d.Reason)
		switch d.Reason {
		case policy.ReasonNoBudget:
			fmt.Println("            → Today's usage time has been used up")
		case policy.ReasonWrongState:
			fmt.Printf("            → Instance is %s\n", d.State)
		case policy.ReasonNotOwner:
			fmt.Println("            → Requester does not own this instance")
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
