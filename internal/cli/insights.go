package cli

// Read-only views over the incident memory.
//
// Commands:
//   triage insights [--window 30]
//   triage replay [--cause <c>] [--min-confidence <f>] [--since <dur>] [--last <n>]

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/memory/trend"
)

func newInsightsCmd(a *app) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Show learning trends across recorded incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			incidents, err := rt.store.Query(ctx, incident.Filter{})
			if err != nil {
				return err
			}
			opts := trend.Options{Window: rt.cfg.Trend.Window, StableBand: rt.cfg.Trend.StableBand}
			if window > 0 {
				opts.Window = window
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(trend.Compute(incidents, opts))
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "incidents in the confidence trend window (default trend.window)")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		filter incident.Filter
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print recorded incidents as JSON lines, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.MinConfidence < 0 || filter.MinConfidence > 1 {
				return fmt.Errorf("--min-confidence must be within [0,1]")
			}
			if filter.Last < 0 {
				return fmt.Errorf("--last cannot be negative")
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			incidents, err := rt.store.Query(ctx, filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			for i := range incidents {
				if err := enc.Encode(&incidents[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Cause, "cause", "", "only incidents with a hypothesis for this cause")
	cmd.Flags().Float64Var(&filter.MinConfidence, "min-confidence", 0, "minimum confidence")
	cmd.Flags().DurationVar(&since, "since", 0, "only incidents recorded within this duration")
	cmd.Flags().IntVar(&filter.Last, "last", 0, "only the most recent N matches")
	return cmd
}
