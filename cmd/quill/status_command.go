package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <report-id>",
		Short: "Show the current state of an analysis report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			record, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(record)
			}

			fmt.Fprintf(out, "State:    %s\n", colorizeState(record.State, shouldColorize(out)))
			fmt.Fprintf(out, "Progress: %.0f%%\n", record.Progress)
			if record.CurrentStep != "" {
				fmt.Fprintf(out, "Step:     %s\n", record.CurrentStep)
			}
			if record.Message != "" {
				fmt.Fprintf(out, "Message:  %s\n", record.Message)
			}
			fmt.Fprintf(out, "Updated:  %s\n", timeCell(record.UpdatedAt))

			if len(record.Results) > 0 {
				rows := make([][]string, 0, len(record.Results))
				for _, stage := range sortedKeys(record.Results) {
					rows = append(rows, []string{stage, record.Results[stage]})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Stage", "Result"}, rows, nil))
			}
			if len(record.Errors) > 0 {
				rows := make([][]string, 0, len(record.Errors))
				for _, stage := range sortedKeys(record.Errors) {
					rows = append(rows, []string{stage, record.Errors[stage]})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Stage", "Error"}, rows, nil))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status record as JSON")
	return cmd
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
