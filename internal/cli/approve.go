package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/config"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/harness"
)

var rejectReason string

var approveCmd = &cobra.Command{
	Use:   "approve <workflow-reference-code>",
	Short: "Approve or reject a gated plan on a running daemon",
	Long: "Publishes a plan-approval response to the orchestrator queue.\n" +
		"Requires the kafka bus so the response reaches the running daemon.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Bus.Mode != "kafka" {
			return fmt.Errorf("approve requires bus mode kafka (got %q): an in-memory bus is not reachable from another process", cfg.Bus.Mode)
		}
		brokers := cfg.Bus.BrokerList()
		if len(brokers) == 0 {
			return fmt.Errorf("bus mode kafka requires brokers")
		}
		b := bus.NewKafkaBus(brokers, cfg.Bus.ConsumerGroup)
		defer b.Close()

		ref := args[0]
		approved := !cmd.Flags().Changed("reject")
		env := envelope.New(envelope.NewPlanApproval(envelope.PlanApproval{
			WorkflowReferenceCode: ref,
			Approved:              approved,
			RejectionReason:       rejectReason,
		}), ref, envelope.Context{})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Publish(ctx, harness.QueueFor(cfg.Runtime.OrchestratorID), env); err != nil {
			return err
		}
		if approved {
			fmt.Println("approved", ref)
		} else {
			fmt.Println("rejected", ref)
		}
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&rejectReason, "reject", "", "reject the plan with the given reason")
}
