package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/agent-router/internal/usage"
)

func newUsageCmd() *cobra.Command {
	var (
		project string
		agent   string
		since   time.Duration
		records int
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize recorded usage from the local ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openUsageStore(s)
			if err != nil {
				return fmt.Errorf("usage store: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if records > 0 {
				recs, err := store.Recent(ctx, records)
				if err != nil {
					return err
				}
				return printRecords(out, recs)
			}

			f := usage.Filter{ProjectID: project, AgentID: agent}
			if since > 0 {
				f.TimeRange = &usage.TimeRange{Start: time.Now().Add(-since).UTC()}
			}
			agg, err := store.Aggregate(ctx, f)
			if err != nil {
				return err
			}
			return printAggregate(out, agg)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "filter by project id")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent id")
	cmd.Flags().DurationVar(&since, "since", 0, "only include records newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&records, "records", 0, "list the N most recent records instead of a summary")
	return cmd
}

func printAggregate(out io.Writer, agg usage.Aggregate) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Requests:\t%d\n", agg.TotalRequests)
	fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", agg.SuccessRate*100)
	fmt.Fprintf(tw, "Tokens:\t%d in / %d out / %d total\n", agg.Tokens.Input, agg.Tokens.Output, agg.Tokens.Total)
	fmt.Fprintf(tw, "Cost:\t$%.4f\n", agg.TotalCost)
	fmt.Fprintf(tw, "Avg latency:\t%.0f ms\n", agg.AverageLatencyMs)
	writeBreakdown(tw, "Model", agg.ByModel)
	writeBreakdown(tw, "Agent type", agg.ByAgentType)
	return tw.Flush()
}

func writeBreakdown(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n%s\tRequests\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
}

func printRecords(out io.Writer, recs []usage.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROJECT\tAGENT\tMODEL\tPROVIDER\tTOKENS\tCOST\tLATENCY\tREASON\tOK")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.4f\t%dms\t%s\t%t\n",
			r.Timestamp.Format(time.RFC3339), dash(r.ProjectID), dash(r.AgentID),
			r.Model, dash(r.Provider), r.Tokens.Total, r.Cost, r.LatencyMs, r.RoutingReason, r.Success)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
