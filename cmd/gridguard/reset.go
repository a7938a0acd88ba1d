package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var resetRollup bool

var resetDailyCmd = &cobra.Command{
	Use:   "reset-daily",
	Short: "Zero every group's today counters",
	Long: `reset-daily runs the daily job immediately. With --rollup (the default)
today's counters are first written to the daily statistics, and old
execution logs and statistics are pruned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if resetRollup {
			if err := a.scheduler().RunDaily(ctx, time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daily job completed")
			return nil
		}

		n, err := a.uc.Engine.ResetDailyCounters(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d groups\n", n)
		return nil
	},
}

func init() {
	resetDailyCmd.Flags().BoolVar(&resetRollup, "rollup", true, "write daily statistics and prune before resetting")
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
