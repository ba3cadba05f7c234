package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbhq-uk/cortex/internal/config"
	"github.com/dbhq-uk/cortex/internal/knowledge"
	"github.com/dbhq-uk/cortex/internal/ledger"
)

var (
	learnSource   string
	learnKeywords string
)

var learnCmd = &cobra.Command{
	Use:   "learn <snippet>",
	Short: "Store a context snippet for the decomposition pipeline",
	Args:  cobra.ExactArgs(1),
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

		kb, err := knowledge.New(store.DB())
		if err != nil {
			return err
		}
		keywords := strings.Split(learnKeywords, ",")
		if err := kb.Add(cmd.Context(), learnSource, args[0], keywords); err != nil {
			return err
		}
		fmt.Println("snippet stored")
		return nil
	},
}

func init() {
	learnCmd.Flags().StringVar(&learnSource, "source", "cli", "where the snippet came from")
	learnCmd.Flags().StringVar(&learnKeywords, "keywords", "", "comma-separated keywords the snippet matches on")
}
