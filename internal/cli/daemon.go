package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbhq-uk/cortex/internal/authority"
	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/channels"
	"github.com/dbhq-uk/cortex/internal/config"
	"github.com/dbhq-uk/cortex/internal/knowledge"
	"github.com/dbhq-uk/cortex/internal/ledger"
	"github.com/dbhq-uk/cortex/internal/orchestrator"
	"github.com/dbhq-uk/cortex/internal/pipeline"
	"github.com/dbhq-uk/cortex/internal/refcode"
	"github.com/dbhq-uk/cortex/internal/registry"
	"github.com/dbhq-uk/cortex/internal/runtime"
	"github.com/dbhq-uk/cortex/internal/worker"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the cortex agent runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runDaemon(cfg)
	},
}

func runDaemon(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *ledger.Store
	if cfg.Ledger.DBPath != "" {
		s, err := ledger.OpenStore(cfg.Ledger.DBPath)
		if err != nil {
			return err
		}
		store = s
		defer store.Close()
	}

	b, err := buildBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer b.Close()

	var seqStore refcode.SeqStore
	if store != nil {
		seqStore = store
	}
	refs := refcode.NewGenerator(seqStore)
	reg := registry.New()
	delegations := ledger.NewDelegationLedger(store)
	workflows := ledger.NewWorkflowLedger(store)
	plans := ledger.NewMemoryPlanStore(store)

	llmCfg := pipeline.LLMConfig{
		BaseURL:     cfg.Pipeline.BaseURL,
		APIKey:      cfg.Pipeline.APIKey,
		Model:       cfg.Pipeline.Model,
		Temperature: cfg.Pipeline.Temperature,
	}
	decomposer := pipeline.NewLLMDecomposer(llmCfg)
	if store != nil {
		kb, err := knowledge.New(store.DB())
		if err != nil {
			return err
		}
		decomposer.SetContextProvider(kb)
	}
	orch := orchestrator.New(orchestrator.Config{
		AgentID:              cfg.Runtime.OrchestratorID,
		AgentName:            cfg.Runtime.OrchestratorName,
		EscalationTarget:     cfg.Runtime.EscalationTarget,
		ConfidenceThreshold:  cfg.Runtime.ConfidenceThreshold,
		ApprovalRequiredTier: authority.ParseTier(cfg.Runtime.ApprovalRequiredTier),
	}, orchestrator.Deps{
		Bus:         b,
		Registry:    reg,
		Refs:        refs,
		Delegations: delegations,
		Workflows:   workflows,
		Plans:       plans,
		Decomposer:  decomposer,
	})

	rt := runtime.New(b, reg)
	rt.AddStatic(orch, cfg.Runtime.TeamID)
	completer := pipeline.NewLLMCompleter(llmCfg)
	for _, wc := range cfg.Workers {
		caps := make([]registry.Capability, len(wc.Capabilities))
		for i, name := range wc.Capabilities {
			caps[i] = registry.Capability{Name: name}
		}
		rt.AddStatic(worker.New(wc.ID, wc.Name, caps, completer), wc.TeamID)
	}
	if cfg.Runtime.OverdueAfterMinutes > 0 {
		rt.EnableOverdueSweep(delegations,
			time.Duration(cfg.Runtime.OverdueAfterMinutes)*time.Minute,
			time.Duration(cfg.Runtime.SweepEveryMinutes)*time.Minute)
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer rt.Stop()

	if cfg.Slack.Enabled {
		slackCh := channels.NewSlackChannel(cfg.Slack, b, refs, cfg.Runtime.OrchestratorID)
		if err := slackCh.Start(ctx); err != nil {
			return err
		}
		if err := slackCh.ConsumeProposals(cfg.Runtime.EscalationTarget); err != nil {
			return err
		}
		defer slackCh.Stop()
	}

	slog.Info("cortex daemon running",
		"orchestrator", cfg.Runtime.OrchestratorID,
		"bus", cfg.Bus.Mode,
		"workers", len(cfg.Workers))
	<-ctx.Done()
	slog.Info("cortex daemon shutting down")
	return nil
}

func buildBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Mode {
	case "", "memory":
		return bus.NewMemoryBus(), nil
	case "kafka":
		brokers := cfg.BrokerList()
		if len(brokers) == 0 {
			return nil, fmt.Errorf("bus mode kafka requires brokers")
		}
		return bus.NewKafkaBus(brokers, cfg.ConsumerGroup), nil
	default:
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
	}
}
