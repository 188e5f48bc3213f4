package loop

import (
	"fmt"
	"time"
)

// Config is the controller's operator-tunable configuration.
//
// The adaptive strategy moves the effective cycle interval inside
// [MinCycleInterval, MaxCycleInterval]; CycleInterval is where it
// starts. Paths are consumed at wiring time, not by the controller
// itself.
type Config struct {
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	MinCycleInterval time.Duration `yaml:"min_cycle_interval"`
	MaxCycleInterval time.Duration `yaml:"max_cycle_interval"`

	// MaxProposals caps how many candidates one cycle will take through
	// validation and promotion.
	MaxProposals int `yaml:"max_proposals"`

	// MaxChangeRate is the ceiling on the schema fraction one proposal
	// may touch; the adaptive strategy scales the effective budget down
	// when recent cycles failed.
	MaxChangeRate float64 `yaml:"max_change_rate"`

	// FailureThreshold is the rolling failure rate at which the
	// controller pauses itself.
	FailureThreshold float64 `yaml:"failure_threshold"`

	// MaxRetries bounds consecutive failed cycles before pausing.
	MaxRetries int `yaml:"max_retries"`

	// GracePeriod is the minimum spacing between forward promotions.
	// Zero disables the gate. Rollbacks bypass it.
	GracePeriod time.Duration `yaml:"grace_period"`

	// WindowSize is the adaptive strategy's rolling outcome window.
	WindowSize int `yaml:"window_size"`

	AuditPath      string `yaml:"audit_path"`
	SigningKeyPath string `yaml:"signing_key_path"`
	KnowledgePath  string `yaml:"knowledge_path"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		CycleInterval:    time.Minute,
		MinCycleInterval: 10 * time.Second,
		MaxCycleInterval: 10 * time.Minute,
		MaxProposals:     3,
		MaxChangeRate:    0.10,
		FailureThreshold: 0.5,
		MaxRetries:       3,
		GracePeriod:      0,
		WindowSize:       20,
		AuditPath:        "autarch.audit.ndjson",
		SigningKeyPath:   "autarch.signing.key",
		KnowledgePath:    "autarch.db",
	}
}

// Validate checks the configuration, returning the first problem found.
func (c Config) Validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive, got %s", c.CycleInterval)
	}
	if c.MinCycleInterval <= 0 {
		return fmt.Errorf("min_cycle_interval must be positive, got %s", c.MinCycleInterval)
	}
	if c.MaxCycleInterval < c.MinCycleInterval {
		return fmt.Errorf("max_cycle_interval %s is below min_cycle_interval %s",
			c.MaxCycleInterval, c.MinCycleInterval)
	}
	if c.CycleInterval < c.MinCycleInterval || c.CycleInterval > c.MaxCycleInterval {
		return fmt.Errorf("cycle_interval %s outside [%s, %s]",
			c.CycleInterval, c.MinCycleInterval, c.MaxCycleInterval)
	}
	if c.MaxProposals < 1 {
		return fmt.Errorf("max_proposals must be at least 1, got %d", c.MaxProposals)
	}
	if c.MaxChangeRate <= 0 || c.MaxChangeRate > 1 {
		return fmt.Errorf("max_change_rate must be in (0, 1], got %g", c.MaxChangeRate)
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		return fmt.Errorf("failure_threshold must be in (0, 1], got %g", c.FailureThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be non-negative, got %s", c.GracePeriod)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", c.WindowSize)
	}
	if c.AuditPath == "" {
		return fmt.Errorf("audit_path must not be empty")
	}
	if c.SigningKeyPath == "" {
		return fmt.Errorf("signing_key_path must not be empty")
	}
	if c.KnowledgePath == "" {
		return fmt.Errorf("knowledge_path must not be empty")
	}
	return nil
}
