package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dbhq-uk/cortex/internal/config"
	"github.com/dbhq-uk/cortex/internal/ledger"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent delegations and workflows from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Ledger.DBPath == "" {
			return fmt.Errorf("no ledger database configured")
		}
		store, err := ledger.OpenStore(cfg.Ledger.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		delegations, err := store.ListDelegations(statusLimit)
		if err != nil {
			return err
		}
		workflows, err := store.ListWorkflows(statusLimit)
		if err != nil {
			return err
		}

		color.New(color.Bold).Println("Delegations")
		if len(delegations) == 0 {
			fmt.Println("  (none)")
		}
		for _, d := range delegations {
			fmt.Printf("  %s  %s -> %s  %s  %s\n",
				d.ReferenceCode, d.DelegatedBy, d.DelegatedTo,
				colorStatus(string(d.Status)), d.Description)
		}

		color.New(color.Bold).Println("\nWorkflows")
		if len(workflows) == 0 {
			fmt.Println("  (none)")
		}
		for _, w := range workflows {
			fmt.Printf("  %s  %s  %d subtasks  %s\n",
				w.ReferenceCode, colorStatus(string(w.Status)), len(w.SubtaskRefs), w.Summary)
		}
		return nil
	},
}

func colorStatus(status string) string {
	switch status {
	case string(ledger.StatusComplete), string(ledger.WorkflowCompleted):
		return color.GreenString(status)
	case string(ledger.StatusOverdue):
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum rows per section")
}
