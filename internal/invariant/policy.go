package invariant

import (
	"fmt"
	"time"
)

// ChatmanConstant is the fixed hot-path tick budget. Critical operations
// must complete within this many ticks; candidates measuring above it are
// rejected by Q3 and the hot-tick half of Q4.
const ChatmanConstant uint32 = 8

// Policy holds the thresholds the Q2-Q5 checks evaluate against.
//
// Q1 is structural (acyclicity) and takes no thresholds. The defaults are
// the production bounds; policy packs may tighten them but the zero value
// is NOT usable - always start from DefaultPolicy.
type Policy struct {
	// MaxViolationRate is the Q2 ceiling on schema-violation rate,
	// expressed as a fraction (0.01 = 1%). Rates strictly above fail.
	MaxViolationRate float64

	// TickBudget is the Q3/Q4 hot-path ceiling in ticks.
	TickBudget uint32

	// MaxWarmLatency is the Q4 warm-path latency ceiling.
	MaxWarmLatency time.Duration

	// MaxMemoryBytes is the Q5 resident-memory ceiling.
	MaxMemoryBytes uint64

	// MaxCPUPercent is the Q5 CPU-utilization ceiling (0-100).
	MaxCPUPercent float64

	// MaxTailLatency is the Q5 tail (p99+) latency ceiling.
	MaxTailLatency time.Duration
}

// DefaultPolicy returns the production thresholds:
// 1% violation rate, 8 ticks, 100ms warm path, 1024 MiB, 50% CPU, 500ms tail.
func DefaultPolicy() Policy {
	return Policy{
		MaxViolationRate: 0.01,
		TickBudget:       ChatmanConstant,
		MaxWarmLatency:   100 * time.Millisecond,
		MaxMemoryBytes:   1024 << 20,
		MaxCPUPercent:    50,
		MaxTailLatency:   500 * time.Millisecond,
	}
}

// Validate rejects policies that would disable a check entirely.
func (p Policy) Validate() error {
	if p.MaxViolationRate < 0 || p.MaxViolationRate > 1 {
		return fmt.Errorf("max_violation_rate must be in [0,1], got %v", p.MaxViolationRate)
	}
	if p.TickBudget == 0 {
		return fmt.Errorf("tick_budget must be at least 1")
	}
	if p.MaxWarmLatency <= 0 {
		return fmt.Errorf("max_warm_latency must be positive, got %v", p.MaxWarmLatency)
	}
	if p.MaxMemoryBytes == 0 {
		return fmt.Errorf("max_memory_bytes must be positive")
	}
	if p.MaxCPUPercent <= 0 || p.MaxCPUPercent > 100 {
		return fmt.Errorf("max_cpu_percent must be in (0,100], got %v", p.MaxCPUPercent)
	}
	if p.MaxTailLatency <= 0 {
		return fmt.Errorf("max_tail_latency must be positive, got %v", p.MaxTailLatency)
	}
	return nil
}
