package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conductor/internal/collector"
	"conductor/internal/store"
)

func newRunsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runs [run-id]",
		Short:   "Show stored run history, or the report of one run",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: bindLocalFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString("store")
			if path == "" {
				if cfg, _, err := loadConfig(v); err == nil {
					path = cfg.Output.Store
				}
			}
			if path == "" {
				return usageError(errors.New("no store configured, pass --store"))
			}
			st, err := store.Open(path)
			if err != nil {
				return usageError(err)
			}
			defer st.Close()

			if len(args) == 1 {
				return showRun(cmd, st, args[0])
			}
			if keep := v.GetInt("keep"); keep > 0 {
				n, err := st.Prune(cmd.Context(), keep)
				if err != nil {
					return usageError(err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d runs\n", n)
			}
			return listRuns(cmd, st, v.GetInt("limit"))
		},
	}
	cmd.Flags().String("store", "", "sqlite database that keeps run history")
	cmd.Flags().Int("limit", 20, "number of runs to show, 0 for all")
	cmd.Flags().Int("keep", 0, "delete all but the newest N runs first")
	return cmd
}

func listRuns(cmd *cobra.Command, st *store.Store, limit int) error {
	runs, err := st.Runs(cmd.Context(), limit)
	if err != nil {
		return usageError(err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tWORKERS\tTESTS\tPASSED\tFAILED\tSKIPPED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Started.Local().Format(time.DateTime), r.Workers,
			r.Tests, r.Passed, r.Failed, r.Skipped, collector.FormatDuration(r.Duration))
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, st *store.Store, id string) error {
	ctx := cmd.Context()
	r, err := st.Run(ctx, id)
	if err != nil {
		return usageError(err)
	}
	records, err := st.Records(ctx, id)
	if err != nil {
		return usageError(err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s, started %s\n\n", r.ID, r.Started.Local().Format(time.DateTime))
	collector.FormatText(out, collector.ComputeMetrics(records, r.Duration), nil)
	return nil
}
