package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes YAML content to a temp file and returns its path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: full-scenario
description: Exercises every scenario section.
config:
  max_proposals: 2
  grace_period: 30s
policy:
  tick_budget: 12
cycles:
  - patterns:
      - kind: hot_field
        situation: checkout
        confidence: 0.9
        occurrences: 40
    proposals:
      - target: orders.hot_total
        change_rate: 0.05
        metrics:
          max_ticks: 10
  - slo_violation:
      metric: p99_latency
      observed: 712ms
      threshold: 500ms
assertions:
  - type: audit_contains
    event: promotion_succeeded
    snapshot: orders.hot_total
  - type: history_length
    length: 2
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "full-scenario", scenario.Name)
	require.NotNil(t, scenario.Config)
	require.NotNil(t, scenario.Config.MaxProposals)
	assert.Equal(t, 2, *scenario.Config.MaxProposals)
	assert.Equal(t, "30s", scenario.Config.GracePeriod)
	require.NotNil(t, scenario.Policy)
	require.NotNil(t, scenario.Policy.TickBudget)
	assert.Equal(t, uint32(12), *scenario.Policy.TickBudget)

	require.Len(t, scenario.Cycles, 2)
	require.Len(t, scenario.Cycles[0].Patterns, 1)
	assert.Equal(t, "hot_field", scenario.Cycles[0].Patterns[0].Kind)
	require.Len(t, scenario.Cycles[0].Proposals, 1)
	assert.Equal(t, "orders.hot_total", scenario.Cycles[0].Proposals[0].Target)
	require.NotNil(t, scenario.Cycles[0].Proposals[0].Metrics)
	require.NotNil(t, scenario.Cycles[1].SLOViolation)
	assert.Equal(t, "p99_latency", scenario.Cycles[1].SLOViolation.Metric)

	require.Len(t, scenario.Assertions, 2)
	assert.Equal(t, AssertAuditContains, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	// "cycle:" instead of "cycles:" must not silently parse
	path := writeScenario(t, `
name: typo
description: Catches typos.
cycle:
  - {}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadScenario_MissingName(t *testing.T) {
	path := writeScenario(t, `
description: No name.
cycles:
  - {}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadScenario_MissingDescription(t *testing.T) {
	path := writeScenario(t, `
name: no-description
cycles:
  - {}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description is required")
}

func TestLoadScenario_MissingCycles(t *testing.T) {
	path := writeScenario(t, `
name: no-cycles
description: Scenario without cycles.
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycles list is required")
}

func TestLoadScenario_UnknownTrigger(t *testing.T) {
	path := writeScenario(t, `
name: bad-trigger
description: Trigger must be a known value.
cycles:
  - trigger: cron
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown trigger "cron"`)
}

func TestLoadScenario_ProposalMissingTarget(t *testing.T) {
	path := writeScenario(t, `
name: no-target
description: Proposals need targets.
cycles:
  - proposals:
      - change_rate: 0.05
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target is required")
}

func TestLoadScenario_BadMetricsDuration(t *testing.T) {
	path := writeScenario(t, `
name: bad-metrics
description: Metric durations must parse.
cycles:
  - proposals:
      - target: orders.x
        metrics:
          warm_latency: fast
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid warm_latency")
}

func TestLoadScenario_BadGracePeriod(t *testing.T) {
	path := writeScenario(t, `
name: bad-grace
description: Grace period must parse.
config:
  grace_period: soonish
cycles:
  - {}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid grace_period")
}

func TestLoadScenario_BadPolicyDuration(t *testing.T) {
	path := writeScenario(t, `
name: bad-policy
description: Policy durations must parse.
policy:
  max_warm_latency: quick
cycles:
  - {}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid max_warm_latency")
}

func TestLoadScenario_SLOViolationRequiresMetric(t *testing.T) {
	path := writeScenario(t, `
name: empty-violation
description: Violations must name the breached metric.
cycles:
  - slo_violation:
      observed: 900ms
      threshold: 500ms
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slo_violation requires metric")
}

func TestLoadScenario_UnknownAssertionType(t *testing.T) {
	path := writeScenario(t, `
name: bad-assertion
description: Assertion types are a closed set.
cycles:
  - {}
assertions:
  - type: trail_contains
    event: cycle_started
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown assertion type "trail_contains"`)
}

func TestLoadScenario_UnknownEventType(t *testing.T) {
	path := writeScenario(t, `
name: bad-event
description: Assertion events must be known audit events.
cycles:
  - {}
assertions:
  - type: audit_contains
    event: cycle_exploded
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event type "cycle_exploded"`)
}

func TestLoadScenario_AuditOrderNeedsTwoEvents(t *testing.T) {
	path := writeScenario(t, `
name: short-order
description: Ordering one event is meaningless.
cycles:
  - {}
assertions:
  - type: audit_order
    events:
      - cycle_started
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two events")
}

func TestMetricsScript_NilResolvesToHealthyDefaults(t *testing.T) {
	var m *MetricsScript

	metrics, err := m.resolve()
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), metrics.Observations)
	assert.Equal(t, uint64(0), metrics.SchemaViolations)
	assert.Equal(t, uint32(6), metrics.MaxTicks)
	assert.Equal(t, 20*time.Millisecond, metrics.WarmLatency)
}

func TestMetricsScript_OverridesApply(t *testing.T) {
	ticks := uint32(9)
	violations := uint64(30)
	m := &MetricsScript{
		MaxTicks:         &ticks,
		SchemaViolations: &violations,
		TailLatency:      "700ms",
	}

	metrics, err := m.resolve()
	require.NoError(t, err)

	assert.Equal(t, uint32(9), metrics.MaxTicks)
	assert.Equal(t, uint64(30), metrics.SchemaViolations)
	assert.Equal(t, 700*time.Millisecond, metrics.TailLatency)
	// Untouched fields keep defaults
	assert.Equal(t, uint64(1000), metrics.Observations)
}

func TestPolicyOverrides_NilKeepsStockPolicy(t *testing.T) {
	var o *PolicyOverrides

	policy, err := o.resolve()
	require.NoError(t, err)

	assert.Equal(t, uint32(8), policy.TickBudget)
	assert.Equal(t, 0.01, policy.MaxViolationRate)
}
