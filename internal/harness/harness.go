package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
	"github.com/roach88/autarch/internal/testutil"
)

// scenarioStart is the fixed instant every scenario starts at.
var scenarioStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// signerSeed is the fixed 32-byte Ed25519 seed scenario trails are
// signed with. Fixed so signatures, and therefore golden files, are
// stable across runs.
const signerSeed = "autarch-harness-seed-0123456789a"

// cycleSpacing is how far the manual clock advances between cycles.
const cycleSpacing = time.Second

// Run executes a scenario and returns the result.
//
// Each run builds a fresh controller: a temp-file audit trail signed
// with the fixed seed, a fresh promoter and rollback manager, a manual
// clock, and fixed cycle tokens. Cycle failures the scenario scripts
// (observe_error, compile_error, breached metrics) are expected
// behavior recorded in the cycle outcomes; only harness-level failures
// such as a bad config return a non-nil error.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "autarch-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg, err := buildConfig(scenario.Config, dir)
	if err != nil {
		return nil, err
	}
	validator, err := buildValidator(scenario.Policy)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewClock(scenarioStart)
	signer, err := audit.NewSignerFromSeed([]byte(signerSeed))
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	trail, err := audit.Open(cfg.AuditPath, signer, audit.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	defer trail.Close()

	promoter := promotion.NewPromoter()
	manager := rollback.NewManager(promoter, trail, rollback.WithClock(clock.Now))

	sc := newScript(scenario.Cycles, clock.Now)
	controller, err := loop.NewController(cfg,
		loop.Core{
			Promoter:  promoter,
			Trail:     trail,
			Rollback:  manager,
			Validator: validator,
		},
		loop.Collaborators{
			Source:    sc,
			Miner:     sc,
			Generator: sc,
			Compiler:  sc,
			SLO:       sc,
		},
		loop.WithClock(clock.Now),
		loop.WithTokenGenerator(loop.NewFixedGenerator(testutil.CycleTokens(len(scenario.Cycles))...)),
	)
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}

	result := NewResult()
	ctx := context.Background()
	for i := range scenario.Cycles {
		sc.advance(i)
		// Scripted cycle failures surface through the cycle record, so
		// the returned error is deliberately not consulted here.
		fc, _ := controller.RunCycle(ctx, scenario.Cycles[i].trigger())
		if fc != nil {
			result.Cycles = append(result.Cycles, *fc)
		}
		clock.Advance(cycleSpacing)
	}

	result.Trail = trail.FullHistory()
	result.Candidates = sc.candidateIDs()
	result.Current = controller.CurrentSnapshot()
	result.State = controller.State()

	actx := &AssertionContext{
		Candidates: result.Candidates,
		History:    controller.History(0),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// buildConfig applies the scenario's overrides to the default loop
// configuration. The audit, key, and knowledge paths are owned by the
// harness, never by the scenario.
func buildConfig(o *ConfigOverrides, dir string) (loop.Config, error) {
	cfg := loop.DefaultConfig()
	cfg.AuditPath = filepath.Join(dir, "audit.ndjson")
	cfg.SigningKeyPath = filepath.Join(dir, "signing.key")
	cfg.KnowledgePath = filepath.Join(dir, "knowledge.db")
	if o == nil {
		return cfg, nil
	}
	if o.MaxProposals != nil {
		cfg.MaxProposals = *o.MaxProposals
	}
	if o.MaxChangeRate != nil {
		cfg.MaxChangeRate = *o.MaxChangeRate
	}
	if o.FailureThreshold != nil {
		cfg.FailureThreshold = *o.FailureThreshold
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.WindowSize != nil {
		cfg.WindowSize = *o.WindowSize
	}
	if o.GracePeriod != "" {
		d, err := time.ParseDuration(o.GracePeriod)
		if err != nil {
			return cfg, fmt.Errorf("invalid grace_period: %w", err)
		}
		cfg.GracePeriod = d
	}
	return cfg, nil
}

// buildValidator resolves the scenario's policy overrides into a
// validator, nil when the stock policy applies.
func buildValidator(o *PolicyOverrides) (*invariant.Validator, error) {
	if o == nil {
		return nil, nil
	}
	policy, err := o.resolve()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	validator, err := invariant.NewValidator(policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return validator, nil
}
