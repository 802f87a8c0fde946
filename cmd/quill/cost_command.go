package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/ledger"
)

func newCostCommand(ctx *commandContext) *cobra.Command {
	costCmd := &cobra.Command{
		Use:   "cost",
		Short: "Inspect the cost ledger",
	}

	costCmd.AddCommand(newCostReportCommand(ctx))
	costCmd.AddCommand(newCostMonthlyCommand(ctx))

	return costCmd
}

func (c *commandContext) openLedger() (*ledger.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg.LedgerDBPath(), ledgerLimits(cfg))
	if err != nil {
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}
	return store, nil
}

func newCostReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report <report-id>",
		Short: "List cost events recorded for a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.EventsForReport(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load cost events: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintf(out, "No cost events recorded for report %s\n", args[0])
				return nil
			}

			var total float64
			rows := make([][]string, 0, len(events))
			for _, event := range events {
				total += event.USD
				rows = append(rows, []string{
					timeCell(event.CreatedAt),
					event.FeatureName,
					event.CostCenter,
					event.Operation,
					strconv.FormatInt(event.InputTokens, 10),
					strconv.FormatInt(event.OutputTokens, 10),
					usdCell(event.USD),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Feature", "Cost Center", "Operation", "In", "Out", "USD"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Total: $%.4f across %d events\n", total, len(events))
			return nil
		},
	}
}

func newCostMonthlyCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var period string

	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Show a user's monthly spend by cost center",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			p := strings.TrimSpace(period)
			if p == "" {
				p = ledger.PeriodOf(time.Now())
			}

			totals, err := store.MonthlyReport(cmd.Context(), userID, p)
			if err != nil {
				return fmt.Errorf("load monthly report: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(totals) == 0 {
				fmt.Fprintf(out, "No spend recorded for %s in %s\n", userID, p)
				return nil
			}

			var total float64
			rows := make([][]string, 0, len(totals))
			for _, row := range totals {
				total += row.USD
				rows = append(rows, []string{
					row.CostCenter,
					strconv.FormatInt(row.Events, 10),
					usdCell(row.USD),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Cost Center", "Events", "USD"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Total for %s: $%.4f\n", p, total)

			status, err := store.CheckUser(cmd.Context(), userID)
			if err == nil && status.LimitUSD > 0 {
				fmt.Fprintf(out, "Budget: $%.2f of $%.2f used\n", status.SpentUSD, status.LimitUSD)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to report on")
	cmd.Flags().StringVar(&period, "period", "", "Calendar month (YYYY-MM, defaults to the current month)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
