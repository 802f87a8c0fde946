package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/objectstore"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var manuscriptID string
	var tier string

	cmd := &cobra.Command{
		Use:   "submit <manuscript-file>",
		Short: "Upload a manuscript and start an analysis report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read manuscript: %w", err)
			}
			if len(data) == 0 {
				return fmt.Errorf("manuscript %s is empty", path)
			}

			id := strings.TrimSpace(manuscriptID)
			if id == "" {
				base := filepath.Base(path)
				id = strings.TrimSuffix(base, filepath.Ext(base))
			}

			store, err := buildObjectStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			key := objectstore.ManuscriptKey(userID, id)
			if err := store.Put(cmd.Context(), key, data); err != nil {
				if errors.Is(err, objectstore.ErrImmutableKey) {
					return fmt.Errorf("manuscript %s already exists with different content; pick a new --manuscript-id", id)
				}
				return fmt.Errorf("upload manuscript: %w", err)
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			reportID, err := client.Submit(cmd.Context(), userID, id, tier)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Report %s queued for manuscript %s\n", reportID, id)
			fmt.Fprintf(out, "Track progress with `quill status %s`\n", reportID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User the report is billed to")
	cmd.Flags().StringVar(&manuscriptID, "manuscript-id", "", "Manuscript identifier (defaults to the file name)")
	cmd.Flags().StringVar(&tier, "tier", "", "Billing tier override (free, pro, enterprise)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
