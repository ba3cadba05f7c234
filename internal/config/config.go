// Package config provides configuration types and loading for cortex.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".cortex"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// Config is the root configuration struct.
type Config struct {
	Runtime  RuntimeConfig  `json:"runtime"`
	Bus      BusConfig      `json:"bus"`
	Ledger   LedgerConfig   `json:"ledger"`
	Pipeline PipelineConfig `json:"pipeline"`
	Slack    SlackConfig    `json:"slack"`
	Workers  []WorkerConfig `json:"workers,omitempty"`
}

// RuntimeConfig groups orchestrator and runtime settings.
type RuntimeConfig struct {
	OrchestratorID       string  `json:"orchestratorId" envconfig:"CORTEX_ORCHESTRATOR_ID"`
	OrchestratorName     string  `json:"orchestratorName" envconfig:"CORTEX_ORCHESTRATOR_NAME"`
	EscalationTarget     string  `json:"escalationTarget" envconfig:"CORTEX_ESCALATION_TARGET"`
	ConfidenceThreshold  float64 `json:"confidenceThreshold" envconfig:"CORTEX_CONFIDENCE_THRESHOLD"`
	ApprovalRequiredTier string  `json:"approvalRequiredTier" envconfig:"CORTEX_APPROVAL_REQUIRED_TIER"`
	OverdueAfterMinutes  int     `json:"overdueAfterMinutes" envconfig:"CORTEX_OVERDUE_AFTER_MINUTES"`
	SweepEveryMinutes    int     `json:"sweepEveryMinutes" envconfig:"CORTEX_SWEEP_EVERY_MINUTES"`
	TeamID               string  `json:"teamId" envconfig:"CORTEX_TEAM_ID"`
}

// BusConfig selects and configures the message transport.
type BusConfig struct {
	// Mode is "memory" or "kafka".
	Mode          string `json:"mode" envconfig:"CORTEX_BUS_MODE"`
	Brokers       string `json:"brokers" envconfig:"CORTEX_KAFKA_BROKERS"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CORTEX_KAFKA_CONSUMER_GROUP"`
}

// BrokerList splits the comma-separated broker string.
func (c BusConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// LedgerConfig configures ledger persistence.
type LedgerConfig struct {
	DBPath string `json:"dbPath" envconfig:"CORTEX_LEDGER_DB"`
}

// PipelineConfig configures the decomposition and completion backend.
type PipelineConfig struct {
	BaseURL     string  `json:"baseUrl" envconfig:"CORTEX_PIPELINE_BASE_URL"`
	APIKey      string  `json:"apiKey" envconfig:"CORTEX_PIPELINE_API_KEY"`
	Model       string  `json:"model" envconfig:"CORTEX_PIPELINE_MODEL"`
	Temperature float64 `json:"temperature" envconfig:"CORTEX_PIPELINE_TEMPERATURE"`
}

// SlackConfig configures the Slack ingress/egress channel.
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"CORTEX_SLACK_ENABLED"`
	BotToken  string `json:"botToken" envconfig:"CORTEX_SLACK_BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"CORTEX_SLACK_APP_TOKEN"`
	ChannelID string `json:"channelId" envconfig:"CORTEX_SLACK_CHANNEL_ID"`
}

// WorkerConfig declares one static worker agent.
type WorkerConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	TeamID       string   `json:"teamId,omitempty"`
}

// Defaults returns a config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Runtime: RuntimeConfig{
			OrchestratorID:       "orchestrator",
			OrchestratorName:     "Orchestrator",
			EscalationTarget:     "human",
			ConfidenceThreshold:  0.6,
			ApprovalRequiredTier: "must_ask_first",
			OverdueAfterMinutes:  0,
			SweepEveryMinutes:    5,
		},
		Bus:    BusConfig{Mode: "memory", ConsumerGroup: "cortex"},
		Ledger: LedgerConfig{DBPath: "cortex.db"},
	}
}

// Path returns the config file location, honoring CORTEX_CONFIG.
func Path() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CORTEX_CONFIG")); explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (if present) and applies environment overrides.
func Load() (Config, error) {
	cfg := Defaults()

	path, err := Path()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}
