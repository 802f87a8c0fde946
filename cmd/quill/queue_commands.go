package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the report queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	queueCmd.AddCommand(newQueueDeadLettersCommand(ctx))

	return queueCmd
}

func (c *commandContext) openQueue() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := queue.Open(cfg.QueueDBPath(), queue.Options{
		VisibilityTimeout: time.Duration(cfg.Queue.VisibilityTimeoutSec) * time.Second,
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	return store, nil
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued report envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer store.Close()

			envelopes, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list envelopes: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(envelopes) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(envelopes))
			for _, envelope := range envelopes {
				lease := "-"
				if envelope.LeaseOwner != "" {
					lease = envelope.LeaseOwner
				}
				rows = append(rows, []string{
					envelope.ReportID,
					strconv.Itoa(envelope.DeliveryCount),
					lease,
					timeCell(envelope.EnqueuedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Report", "Deliveries", "Lease", "Enqueued"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Summarize queue depth and lease state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue health: %w", err)
			}

			rows := [][]string{
				{"Ready", strconv.Itoa(summary.Ready)},
				{"Leased", strconv.Itoa(summary.Leased)},
				{"Dead letters", strconv.Itoa(summary.DeadLetters)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"State", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newQueueDeadLettersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List envelopes parked for operator review",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer store.Close()

			letters, err := store.DeadLetters(cmd.Context())
			if err != nil {
				return fmt.Errorf("list dead letters: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(letters) == 0 {
				fmt.Fprintln(out, "No dead letters")
				return nil
			}

			rows := make([][]string, 0, len(letters))
			for _, letter := range letters {
				rows = append(rows, []string{
					letter.ReportID,
					strconv.Itoa(letter.DeliveryCount),
					letter.Reason,
					timeCell(letter.DeadAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Report", "Deliveries", "Reason", "Dead At"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
