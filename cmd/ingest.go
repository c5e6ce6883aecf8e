package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/app"
)

func newIngestCmd() *cobra.Command {
	var campusID string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion for a campus and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := fromContext(cmd.Context())
			if err != nil {
				return err
			}
			if campusID == "" {
				return fmt.Errorf("--campus is required")
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Ingestor().Ingest(cmd.Context(), campusID)
			if err != nil {
				return fmt.Errorf("ingest campus %s: %w", campusID, err)
			}
			rt.logger.Info("ingest complete", zap.String("campus_id", campusID), zap.Int("inserted", summary.Inserted))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&campusID, "campus", "", "campus id to ingest")
	return cmd
}
