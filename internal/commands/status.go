package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agroflow-systems/agroflow/internal/config"
	"github.com/agroflow-systems/agroflow/internal/warehouse/postgres"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [batch-id]",
		Short: "Show recent batches or one batch in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := ""
			if len(args) > 0 {
				batchID = args[0]
			}
			return runStatus(batchID, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent batches to list")
	return cmd
}

func runStatus(batchID string, limit int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := postgres.New(ctx, config.DSN(cfg.Database))
	if err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer store.Close()

	if batchID != "" {
		return showBatch(ctx, store, batchID)
	}
	return showRecentBatches(ctx, store, limit)
}

func showRecentBatches(ctx context.Context, store *postgres.Store, limit int) error {
	batches, err := store.ListAudits(ctx, time.Time{}, limit)
	if err != nil {
		return fmt.Errorf("listing batches: %w", err)
	}

	if len(batches) == 0 {
		fmt.Println("No batches recorded.")
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Recent Batches:")
	fmt.Println()

	for _, b := range batches {
		fmt.Printf("  %s  %-8s %-10s processed=%-7d started=%s\n",
			b.BatchID, b.PipelineName, statusString(b.Status),
			b.Counters.Processed, b.StartTime.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func showBatch(ctx context.Context, store *postgres.Store, batchID string) error {
	rec, err := store.GetAudit(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("batch %s not found", batchID)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Batch: %s\n", rec.BatchID)
	fmt.Printf("  Pipeline: %s\n", rec.PipelineName)
	fmt.Printf("  Status:   %s\n", statusString(rec.Status))
	fmt.Printf("  Started:  %s\n", rec.StartTime.Format(time.RFC3339))
	if rec.EndTime != nil {
		fmt.Printf("  Ended:    %s (took %s)\n",
			rec.EndTime.Format(time.RFC3339),
			rec.EndTime.Sub(rec.StartTime).Round(time.Second))
	}

	fmt.Println()
	_, _ = bold.Println("  Counters:")
	fmt.Printf("    processed: %d\n", rec.Counters.Processed)
	fmt.Printf("    inserted:  %d\n", rec.Counters.Inserted)
	fmt.Printf("    updated:   %d\n", rec.Counters.Updated)
	fmt.Printf("    skipped:   %d\n", rec.Counters.Skipped)
	fmt.Printf("    failed:    %d\n", rec.Counters.Failed)

	if rec.ErrorMessage != "" {
		fmt.Println()
		color.Red("  Error: %s", rec.ErrorMessage)
	}
	fmt.Println()
	return nil
}

func statusString(s types.BatchStatus) string {
	switch s {
	case types.BatchSuccess:
		return color.GreenString(string(s))
	case types.BatchFailed:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}
