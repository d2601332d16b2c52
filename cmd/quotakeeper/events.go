package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/goodtune/quotakeeper/internal/usage"
	"github.com/spf13/cobra"
)

var (
	eventAt     string
	eventSource string
	eventsSince string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Record and inspect usage events",
}

var eventsAppendCmd = &cobra.Command{
	Use:   "append [flags] ENTITY start|stop",
	Short: "Append a start or stop event",
	Long: `Append a start or stop event for an instance. Appending an event that was
already recorded is accepted and ignored.`,
	Example: `  quotakeeper events append i-0abc123 start
  quotakeeper events append --at 2025-03-04T21:00:00+09:00 i-0abc123 stop`,
	Args: cobra.ExactArgs(2),
	RunE: runEventsAppend,
}

var eventsListCmd = &cobra.Command{
	Use:   "list [flags] ENTITY",
	Short: "List an instance's events and today's chargeable sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsList,
}

var stateCmd = &cobra.Command{
	Use:   "state ENTITY running|stopped|unknown",
	Short: "Report an instance's observed state",
	Long: `Record the state of an instance as observed by the agent that talks to the
cloud provider. The policy gate and the reclaimer read this state.`,
	Args: cobra.ExactArgs(2),
	RunE: runState,
}

func init() {
	eventsAppendCmd.Flags().StringVar(&eventAt, "at", "", "Event time (RFC 3339), defaults to now")
	eventsAppendCmd.Flags().StringVar(&eventSource, "source", usage.SourceUser, "Event source")
	eventsListCmd.Flags().StringVar(&eventsSince, "since", "24h", "How far back to list events")

	eventsCmd.AddCommand(eventsAppendCmd)
	eventsCmd.AddCommand(eventsListCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(stateCmd)
}

func runEventsAppend(cmd *cobra.Command, args []string) error {
	kind, err := usage.ParseKind(args[1])
	if err != nil {
		return err
	}

	ts := time.Now()
	if eventAt != "" {
		ts, err = time.Parse(time.RFC3339, eventAt)
		if err != nil {
			return fmt.Errorf("invalid --at %q: %w", eventAt, err)
		}
	}

	a, err := loadApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	event := usage.Event{EntityID: args[0], Kind: kind, Timestamp: ts, Source: eventSource}
	if err := a.engine.RecordEvent(context.Background(), event); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Recorded %s for %s at %s\n", kind, event.EntityID, ts.Format(time.RFC3339))
	return nil
}

func runEventsList(cmd *cobra.Command, args []string) error {
	since, err := time.ParseDuration(eventsSince)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}

	a, err := loadApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	entityID := args[0]
	now := time.Now()
	loc := a.calendar.Location()

	events, err := a.store.Events().Query(context.Background(), entityID, now.Add(-since), now)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tKIND")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\n", ev.Timestamp.In(loc).Format("2006-01-02 15:04:05"), ev.Kind)
	}
	_ = w.Flush()

	dayEvents, err := a.engine.DayEvents(context.Background(), entityID, now)
	if err != nil {
		return err
	}
	res := usage.Account(entityID, dayEvents, usage.ParamsFor(a.calendar, now))

	fmt.Fprintln(os.Stdout)
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION START\tEND\tCHARGE")
	for _, s := range res.Sessions {
		end := s.End.In(loc).Format("15:04:05")
		if s.Open {
			end += " (open)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Start.In(loc).Format("2006-01-02 15:04:05"), end, s.Charge)
	}
	_ = w.Flush()

	for _, inv := range res.Invalid {
		fmt.Fprintf(os.Stdout, "ignored: %v\n", inv)
	}
	fmt.Fprintf(os.Stdout, "\nCharged today: %s\n", res.Charge)
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	state, err := resource.ParseState(args[1])
	if err != nil {
		return err
	}

	a, err := loadApp(quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.controller.ReportState(context.Background(), args[0], state)
}
