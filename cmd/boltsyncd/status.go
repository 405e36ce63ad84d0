package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/voltakids/boltsync/internal/engine"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true)
	statusOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	statusWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	statusErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Long: `Display per-table sync state from the local store.

Shows, for each core table, the total row count, how many rows are
pending outbound sync, and how many are stuck (retry budget exhausted),
plus the sync queue depth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, queueDepth, err := st.CountSyncState(cmd.Context(), engine.MaxRetries)
		if err != nil {
			return fmt.Errorf("failed to read sync state: %w", err)
		}
		stuck, err := st.StuckCount(cmd.Context(), engine.MaxRetries)
		if err != nil {
			return fmt.Errorf("failed to count stuck records: %w", err)
		}

		fmt.Println(statusHeaderStyle.Render("Sync state"))
		for _, c := range counts {
			line := fmt.Sprintf("  %-12s total=%-5d pending=%-5d stuck=%d",
				c.Table, c.Total, c.Pending, c.Stuck)
			switch {
			case c.Stuck > 0:
				fmt.Println(statusErrStyle.Render(line))
			case c.Pending > 0:
				fmt.Println(statusWarnStyle.Render(line))
			default:
				fmt.Println(statusOKStyle.Render(line))
			}
		}
		fmt.Printf("  %-12s depth=%d\n", "sync_queue", queueDepth)

		if stuck > 0 {
			fmt.Println(statusErrStyle.Render(
				fmt.Sprintf("✗ %d record(s) need attention (see 'boltsyncd queue list')", stuck)))
		} else {
			fmt.Println(statusOKStyle.Render("✓ No sync failures"))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
