package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newResultCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "result <report-id> <stage>",
		Short: "Fetch one stage's result payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			payload, err := client.Result(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if target := strings.TrimSpace(outputPath); target != "" {
				if err := os.WriteFile(target, payload, 0o644); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s result to %s\n", args[1], target)
				return nil
			}

			out := cmd.OutOrStdout()
			_, err = out.Write(payload)
			if err == nil && len(payload) > 0 && payload[len(payload)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the payload to a file instead of stdout")
	return cmd
}
