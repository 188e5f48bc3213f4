package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autarch/internal/loop"
)

// fileConfig mirrors loop.Config with human-readable duration strings
// and pointer fields, so omitted keys keep their defaults instead of
// zeroing them.
type fileConfig struct {
	CycleInterval    string   `yaml:"cycle_interval"`
	MinCycleInterval string   `yaml:"min_cycle_interval"`
	MaxCycleInterval string   `yaml:"max_cycle_interval"`
	MaxProposals     *int     `yaml:"max_proposals"`
	MaxChangeRate    *float64 `yaml:"max_change_rate"`
	FailureThreshold *float64 `yaml:"failure_threshold"`
	MaxRetries       *int     `yaml:"max_retries"`
	GracePeriod      string   `yaml:"grace_period"`
	WindowSize       *int     `yaml:"window_size"`
	AuditPath        string   `yaml:"audit_path"`
	SigningKeyPath   string   `yaml:"signing_key_path"`
	KnowledgePath    string   `yaml:"knowledge_path"`
}

// LoadConfig reads a loop configuration YAML file layered over the
// defaults. Unknown fields are rejected (catches typos like
// "cycle_intervall"); an empty file yields the stock configuration.
// The merged result is validated before return.
func LoadConfig(path string) (*loop.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := loop.DefaultConfig()
	if err := applyFileConfig(&cfg, &fc); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyFileConfig(cfg *loop.Config, fc *fileConfig) error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.CycleInterval, &cfg.CycleInterval, "cycle_interval"},
		{fc.MinCycleInterval, &cfg.MinCycleInterval, "min_cycle_interval"},
		{fc.MaxCycleInterval, &cfg.MaxCycleInterval, "max_cycle_interval"},
		{fc.GracePeriod, &cfg.GracePeriod, "grace_period"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if fc.MaxProposals != nil {
		cfg.MaxProposals = *fc.MaxProposals
	}
	if fc.MaxChangeRate != nil {
		cfg.MaxChangeRate = *fc.MaxChangeRate
	}
	if fc.FailureThreshold != nil {
		cfg.FailureThreshold = *fc.FailureThreshold
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.WindowSize != nil {
		cfg.WindowSize = *fc.WindowSize
	}
	if fc.AuditPath != "" {
		cfg.AuditPath = fc.AuditPath
	}
	if fc.SigningKeyPath != "" {
		cfg.SigningKeyPath = fc.SigningKeyPath
	}
	if fc.KnowledgePath != "" {
		cfg.KnowledgePath = fc.KnowledgePath
	}

	return nil
}
