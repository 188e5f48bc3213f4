package loop

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
	"github.com/roach88/autarch/internal/snapshot"
)

// Scripted collaborators: each call returns the next scripted batch,
// repeating the last one once the script runs out.

type scriptedSource struct {
	batches [][]Observation
	err     error
	calls   int
}

func (s *scriptedSource) Collect(ctx context.Context) ([]Observation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return pick(s.batches, s.calls-1), nil
}

type scriptedMiner struct {
	patterns [][]Pattern
	err      error
	calls    int
}

func (m *scriptedMiner) Detect(ctx context.Context, obs []Observation) ([]Pattern, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return pick(m.patterns, m.calls-1), nil
}

type scriptedGenerator struct {
	proposals [][]*Proposal
	err       error
	calls     int
}

func (g *scriptedGenerator) Propose(ctx context.Context, patterns []Pattern) ([]*Proposal, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return pick(g.proposals, g.calls-1), nil
}

func pick[T any](script []T, i int) T {
	var zero T
	if len(script) == 0 {
		return zero
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i]
}

type stubCompiler struct {
	metrics    invariant.Metrics
	metricsFor func(*Proposal) invariant.Metrics
	err        error
	calls      int
}

func (c *stubCompiler) Compile(ctx context.Context, p *Proposal) (*promotion.CompiledArtifacts, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	m := c.metrics
	if c.metricsFor != nil {
		m = c.metricsFor(p)
	}
	blob := []byte(p.Justification)
	return &promotion.CompiledArtifacts{
		Blob:        blob,
		ContentHash: snapshot.ComputeID(blob).String(),
		Metrics:     m,
	}, nil
}

type stubSLO struct {
	violations []*rollback.SLOViolation
	err        error
	calls      int
}

func (s *stubSLO) Check(ctx context.Context) (*rollback.SLOViolation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls-1 < len(s.violations) {
		return s.violations[s.calls-1], nil
	}
	return nil, nil
}

type actionRecord struct {
	situation string
	actionID  string
	ok        bool
}

type recordingSink struct {
	mu      sync.Mutex
	cycles  []FeedbackCycle
	actions []actionRecord
}

func (s *recordingSink) RecordCycle(ctx context.Context, fc *FeedbackCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, *fc)
	return nil
}

func (s *recordingSink) RecordSuccess(ctx context.Context, situation, actionID string, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, actionRecord{situation, actionID, ok})
	return nil
}

func (s *recordingSink) CycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cycles)
}

func (s *recordingSink) Cycles() []FeedbackCycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedbackCycle, len(s.cycles))
	copy(out, s.cycles)
	return out
}

func (s *recordingSink) Actions() []actionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]actionRecord, len(s.actions))
	copy(out, s.actions)
	return out
}

// Fixture wiring.

type fixture struct {
	cfg      Config
	source   *scriptedSource
	miner    *scriptedMiner
	gen      *scriptedGenerator
	compiler *stubCompiler
	sink     *recordingSink
	slo      *stubSLO
	promoter *promotion.Promoter
	trail    *audit.Trail
	manager  *rollback.Manager
}

func goodMetrics() invariant.Metrics {
	return invariant.Metrics{
		Observations:     1000,
		SchemaViolations: 5,
		MaxTicks:         6,
		WarmLatency:      20 * time.Millisecond,
		TailLatency:      80 * time.Millisecond,
		MemoryBytes:      128 << 20,
		CPUPercent:       10,
	}
}

func overTickMetrics() invariant.Metrics {
	m := goodMetrics()
	m.MaxTicks = 9
	return m
}

func someObservations() []Observation {
	return []Observation{{
		Situation: "checkout",
		Source:    "execution-engine",
		Values:    map[string]string{"violation_rate": "0.012"},
		At:        time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}}
}

func somePatterns() []Pattern {
	return []Pattern{{
		Kind:        "recurring_violation",
		Situation:   "checkout",
		Confidence:  0.93,
		Occurrences: 41,
	}}
}

func proposalNamed(target string, rate float64) *Proposal {
	return &Proposal{
		Changes:       []SchemaChange{{Op: "add_field", Target: target, Detail: "string"}},
		Justification: "observed drift in " + target,
		Patterns:      somePatterns(),
		ChangeRate:    rate,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CycleInterval = 20 * time.Millisecond
	cfg.MinCycleInterval = 10 * time.Millisecond
	cfg.MaxCycleInterval = 100 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := audit.NewSignerFromSeed([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.ndjson"), signer)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	promoter := promotion.NewPromoter()
	return &fixture{
		cfg:      testConfig(),
		source:   &scriptedSource{batches: [][]Observation{someObservations()}},
		miner:    &scriptedMiner{patterns: [][]Pattern{somePatterns()}},
		gen:      &scriptedGenerator{},
		compiler: &stubCompiler{metrics: goodMetrics()},
		sink:     &recordingSink{},
		promoter: promoter,
		trail:    trail,
		manager:  rollback.NewManager(promoter, trail),
	}
}

func (f *fixture) controller(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()
	collab := Collaborators{
		Source:    f.source,
		Miner:     f.miner,
		Generator: f.gen,
		Compiler:  f.compiler,
		Sink:      f.sink,
	}
	if f.slo != nil {
		collab.SLO = f.slo
	}
	c, err := NewController(f.cfg, Core{
		Promoter: f.promoter,
		Trail:    f.trail,
		Rollback: f.manager,
	}, collab, opts...)
	require.NoError(t, err)
	return c
}

func eventTypes(entries []audit.Entry) []audit.EventType {
	out := make([]audit.EventType, len(entries))
	for i, e := range entries {
		out[i] = e.Event.Type
	}
	return out
}

func TestNewController_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewController(f.cfg, Core{Trail: f.trail}, Collaborators{
		Source: f.source, Miner: f.miner, Generator: f.gen, Compiler: f.compiler,
	})
	assert.ErrorContains(t, err, "promoter")

	_, err = NewController(f.cfg, Core{Promoter: f.promoter, Trail: f.trail}, Collaborators{
		Miner: f.miner, Generator: f.gen, Compiler: f.compiler,
	})
	assert.ErrorContains(t, err, "observation source")

	bad := f.cfg
	bad.MaxProposals = 0
	_, err = NewController(bad, Core{Promoter: f.promoter, Trail: f.trail}, Collaborators{
		Source: f.source, Miner: f.miner, Generator: f.gen, Compiler: f.compiler,
	})
	assert.ErrorContains(t, err, "max_proposals")
}

func TestRunCycle_PromotesCandidate(t *testing.T) {
	f := newFixture(t)
	proposal := proposalNamed("orders.discount_code", 0.02)
	f.gen.proposals = [][]*Proposal{{proposal}}
	c := f.controller(t, WithTokenGenerator(NewFixedGenerator("cycle-1")))

	fc, err := c.RunCycle(context.Background(), audit.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, fc.Outcome)
	assert.Equal(t, uint64(1), fc.CycleNumber)
	assert.Equal(t, "cycle-1", fc.Token)
	assert.Equal(t, 1, fc.PatternsDetected)
	assert.Equal(t, proposal.CandidateID().String(), fc.SnapshotID)

	cur := f.promoter.Current()
	require.NotNil(t, cur)
	assert.Equal(t, proposal.CandidateID(), cur.SnapshotID)
	assert.Equal(t, uint64(0), cur.Generation)

	assert.Equal(t, []audit.EventType{
		audit.EventCycleStarted,
		audit.EventPatternsDetected,
		audit.EventProposalGenerated,
		audit.EventValidationPassed,
		audit.EventPromotionStarted,
		audit.EventPromotionSucceeded,
	}, eventTypes(f.trail.GetCycle(1)))

	last, ok := f.manager.LastSuccessfulPromotion()
	require.True(t, ok)
	assert.Equal(t, proposal.CandidateID(), last.SnapshotID)

	actions := f.sink.Actions()
	require.Len(t, actions, 1)
	assert.True(t, actions[0].ok)
	assert.Equal(t, "checkout", actions[0].situation)
	require.Equal(t, 1, f.sink.CycleCount())

	state := c.State()
	assert.Equal(t, uint64(1), state.CycleCount)
	assert.Equal(t, uint64(1), state.SuccessCount)
	assert.Equal(t, uint64(0), state.FailureCount)
}

func TestRunCycle_QuietCycleAuditsExactlyThePair(t *testing.T) {
	f := newFixture(t)
	f.miner.patterns = [][]Pattern{nil}
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoChange, fc.Outcome)
	assert.Equal(t, []audit.EventType{
		audit.EventCycleStarted,
		audit.EventNoAnomalies,
	}, eventTypes(f.trail.GetCycle(1)))
	assert.Zero(t, f.gen.calls, "quiet cycle must not generate proposals")
	assert.Zero(t, f.compiler.calls, "quiet cycle must not compile")
	assert.Nil(t, f.promoter.Current())
}

func TestRunCycle_NoProposalsIsNoChange(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{nil}
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChange, fc.Outcome)
	assert.Equal(t, []audit.EventType{
		audit.EventCycleStarted,
		audit.EventPatternsDetected,
	}, eventTypes(f.trail.GetCycle(1)))
}

func TestRunCycle_OverTickCandidateNeverPromoted(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{{proposalNamed("risky.change", 0.02)}}
	f.compiler.metrics = overTickMetrics()
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err, "candidate rejection is not a cycle error")

	assert.Equal(t, OutcomeFailure, fc.Outcome)
	assert.Nil(t, f.promoter.Current(), "rejected candidate must never become current")

	types := eventTypes(f.trail.GetCycle(1))
	assert.Contains(t, types, audit.EventValidationFailed)
	assert.NotContains(t, types, audit.EventPromotionStarted)

	history := f.manager.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)

	actions := f.sink.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].ok)
}

func TestRunCycle_ChangeRateOverBudgetRejected(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{{proposalNamed("sweeping.rewrite", 0.9)}}
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, fc.Outcome)

	entries := f.trail.GetCycle(1)
	var reason string
	for _, e := range entries {
		if e.Event.Type == audit.EventValidationFailed {
			reason = e.Event.Reason
		}
	}
	assert.Contains(t, reason, "change rate")
	assert.Zero(t, f.compiler.calls, "over-budget proposal must not reach compilation")
}

func TestRunCycle_SequentialCyclesChainGenerations(t *testing.T) {
	f := newFixture(t)
	first := proposalNamed("orders.discount_code", 0.02)
	second := proposalNamed("orders.loyalty_tier", 0.02)
	f.gen.proposals = [][]*Proposal{{first}, {second}}
	c := f.controller(t)
	ctx := context.Background()

	_, err := c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	fc, err := c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fc.CycleNumber)

	cur := f.promoter.Current()
	assert.Equal(t, second.CandidateID(), cur.SnapshotID)
	assert.Equal(t, uint64(1), cur.Generation)
	require.NotNil(t, cur.ParentID)
	assert.Equal(t, first.CandidateID(), *cur.ParentID)
}

func TestRunCycle_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	good := proposalNamed("orders.discount_code", 0.02)
	bad := proposalNamed("risky.change", 0.02)
	f.gen.proposals = [][]*Proposal{{good, bad}}
	f.compiler.metricsFor = func(p *Proposal) invariant.Metrics {
		if p.Changes[0].Target == "risky.change" {
			return overTickMetrics()
		}
		return goodMetrics()
	}
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialSuccess, fc.Outcome)
	assert.Equal(t, good.CandidateID(), f.promoter.Current().SnapshotID)

	state := c.State()
	assert.Equal(t, uint64(1), state.SuccessCount)
}

func TestRunCycle_CapsProposals(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxProposals = 1
	f.gen.proposals = [][]*Proposal{{
		proposalNamed("a.first", 0.02),
		proposalNamed("b.second", 0.02),
		proposalNamed("c.third", 0.02),
	}}
	c := f.controller(t)

	_, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.NoError(t, err)

	generated := 0
	for _, e := range f.trail.GetCycle(1) {
		if e.Event.Type == audit.EventProposalGenerated {
			generated++
		}
	}
	assert.Equal(t, 1, generated)
	assert.Equal(t, 1, f.compiler.calls)
}

func TestRunCycle_GracePeriodBlocksRapidPromotions(t *testing.T) {
	f := newFixture(t)
	f.cfg.GracePeriod = time.Hour
	f.gen.proposals = [][]*Proposal{
		{proposalNamed("orders.discount_code", 0.02)},
		{proposalNamed("orders.loyalty_tier", 0.02)},
	}
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := f.controller(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	fc, err := c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, fc.Outcome, "first promotion has no predecessor to space from")
	first := f.promoter.Current().SnapshotID

	fc, err = c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, fc.Outcome)
	assert.Equal(t, first, f.promoter.Current().SnapshotID, "blocked promotion must not move current")

	types := eventTypes(f.trail.GetCycle(2))
	assert.Contains(t, types, audit.EventPromotionFailed)
}

func TestRunCycle_SLOViolationRollsBack(t *testing.T) {
	f := newFixture(t)
	first := proposalNamed("orders.discount_code", 0.02)
	second := proposalNamed("orders.loyalty_tier", 0.02)
	f.gen.proposals = [][]*Proposal{{first}, {second}}
	f.slo = &stubSLO{violations: []*rollback.SLOViolation{
		nil,
		nil,
		{Metric: "p99_latency", Observed: "712ms", Threshold: "500ms"},
	}}
	c := f.controller(t)
	ctx := context.Background()

	_, err := c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	_, err = c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, second.CandidateID(), f.promoter.Current().SnapshotID)

	fc, err := c.RunCycle(ctx, audit.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialSuccess, fc.Outcome)
	assert.Equal(t, first.CandidateID().String(), fc.SnapshotID)
	assert.Equal(t, first.CandidateID(), f.promoter.Current().SnapshotID)

	types := eventTypes(f.trail.GetCycle(3))
	assert.Equal(t, []audit.EventType{
		audit.EventCycleStarted,
		audit.EventRollbackInitiated,
		audit.EventRollbackCompleted,
	}, types, "rollback cycle does no proposal work")
}

func TestRunCycle_ObserveFailureIsCycleError(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("collector unreachable")
	c := f.controller(t)

	fc, err := c.RunCycle(context.Background(), audit.TriggerScheduled)
	require.Error(t, err)
	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, StepObserve, step)
	assert.Equal(t, OutcomeFailure, fc.Outcome)
	assert.Equal(t, StepObserve, fc.FailedStep)

	state := c.State()
	assert.Equal(t, uint64(1), state.FailureCount)
	assert.Contains(t, state.LastError, "collector unreachable")
}

func TestRun_StopLetsCycleCompleteThenExits(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{{proposalNamed("orders.discount_code", 0.02)}}
	c := f.controller(t)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return f.sink.CycleCount() >= 1 },
		2*time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	assert.Equal(t, HealthStopped, c.Health())
}

func TestRun_ContextCancelStops(t *testing.T) {
	f := newFixture(t)
	f.miner.patterns = [][]Pattern{nil}
	c := f.controller(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return f.sink.CycleCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestRun_SelfPausesWhenFailureRateCrossesThreshold(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{{proposalNamed("risky.change", 0.02)}}
	f.compiler.metrics = overTickMetrics()
	c := f.controller(t)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.Health() == HealthPaused },
		5*time.Second, 10*time.Millisecond)

	state := c.State()
	assert.Contains(t, state.PauseReason, "failure rate")

	// Paused means no further cycles run.
	paused := c.State().CycleCount
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, c.State().CycleCount)

	var sawPause bool
	for _, e := range f.trail.FullHistory() {
		if e.Event.Type == audit.EventLoopPaused {
			sawPause = true
		}
	}
	assert.True(t, sawPause)

	c.Stop()
	<-done
}

func TestRun_RetryBudgetExhaustionPauses(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxRetries = 1
	f.source.err = errors.New("collector unreachable")
	c := f.controller(t)
	c.retryBase = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.Health() == HealthPaused },
		2*time.Second, 5*time.Millisecond)
	state := c.State()
	assert.Contains(t, state.PauseReason, "retry budget")
	assert.Equal(t, 2, state.RetryCount)

	c.Stop()
	<-done
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	f.miner.patterns = [][]Pattern{nil}
	c := f.controller(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.Health() == HealthRunning },
		time.Second, time.Millisecond)

	c.Pause(ctx, "operator maintenance")
	assert.Equal(t, HealthPaused, c.Health())
	assert.Equal(t, "operator maintenance", c.State().PauseReason)

	c.Resume(ctx)
	assert.Equal(t, HealthRunning, c.Health())
	assert.Empty(t, c.State().PauseReason)

	var sawPause, sawResume bool
	for _, e := range f.trail.FullHistory() {
		switch e.Event.Type {
		case audit.EventLoopPaused:
			sawPause = true
		case audit.EventLoopResumed:
			sawResume = true
		}
	}
	assert.True(t, sawPause)
	assert.True(t, sawResume)

	c.Stop()
	<-done
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t)
	ctx := context.Background()

	bad := f.cfg
	bad.FailureThreshold = 2
	require.Error(t, c.UpdateConfig(ctx, bad))

	next := f.cfg
	next.MaxProposals = 7
	require.NoError(t, c.UpdateConfig(ctx, next))
	assert.Equal(t, 7, c.Config().MaxProposals)

	var sawUpdate bool
	for _, e := range f.trail.FullHistory() {
		if e.Event.Type == audit.EventConfigUpdated {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate)
}

func TestStatsAndHistory(t *testing.T) {
	f := newFixture(t)
	f.gen.proposals = [][]*Proposal{
		{proposalNamed("orders.discount_code", 0.02)},
		nil,
	}
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := f.controller(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	_, err := c.RunCycle(ctx, audit.TriggerManual)
	require.NoError(t, err)
	_, err = c.RunCycle(ctx, audit.TriggerManual)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.CyclesRun)
	assert.Equal(t, 0.0, stats.ErrorRate)

	history := c.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, OutcomeNoChange, history[1].Outcome)

	latest := c.History(1)
	require.Len(t, latest, 1)
	assert.Equal(t, uint64(2), latest[0].CycleNumber)
}
