package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltakids/boltsync/internal/schema"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.ListQueueItems(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list queue items: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("Sync queue is empty")
			return nil
		}

		fmt.Printf("%-6s %-12s %-8s %-10s %-7s %s\n",
			"ID", "TABLE", "OP", "STATUS", "RETRIES", "CREATED")
		for _, it := range items {
			fmt.Printf("%-6d %-12s %-8s %-10s %-7d %s\n",
				it.ID, it.TableName, it.Operation, it.Status,
				it.RetryCount, it.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset retry counters so failed items are tried again",
	Long: `Reset retry counters on queue items and pending records.

Failed queue items are moved back to pending and their retry counts
cleared, so the next sync pass picks them up from scratch. Useful after
fixing whatever made the remote reject them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		n, err := st.ResetAllQueueRetries(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset queue retries: %w", err)
		}
		var records int64
		for _, table := range schema.Tables() {
			rn, err := st.ResetAllRetries(ctx, table)
			if err != nil {
				return fmt.Errorf("failed to reset %s retries: %w", table, err)
			}
			records += rn
		}

		fmt.Printf("Reset %d queue item(s) and %d record(s)\n", n, records)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
