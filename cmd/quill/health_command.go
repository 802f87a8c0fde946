package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Status != "ok" {
				fmt.Fprintf(out, "Daemon unhealthy: %s\n", report.Error)
				return fmt.Errorf("daemon reported %s", report.Status)
			}

			rows := [][]string{
				{"Workers", strconv.Itoa(report.Workers)},
				{"Ready envelopes", strconv.Itoa(report.Ready)},
				{"Leased envelopes", strconv.Itoa(report.Leased)},
				{"Dead letters", strconv.Itoa(report.DeadLetters)},
			}
			fmt.Fprintln(out, "Daemon healthy")
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}
