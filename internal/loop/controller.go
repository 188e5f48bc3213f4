package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/autarch/internal/adaptive"
	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
	"github.com/roach88/autarch/internal/snapshot"
)

const (
	// historyCapacity bounds the in-memory FeedbackCycle ring.
	historyCapacity = 100

	// pausePollInterval is how often a paused Run loop re-checks health.
	pausePollInterval = 500 * time.Millisecond
)

// errStopped signals that Stop was requested while waiting.
var errStopped = errors.New("loop: stop requested")

// Core bundles the internal machinery the controller drives. Promoter
// and Trail are required; the rest are built with defaults when nil.
type Core struct {
	Promoter  *promotion.Promoter
	Trail     *audit.Trail
	Rollback  *rollback.Manager
	Strategy  *adaptive.Strategy
	Validator *invariant.Validator
}

// Collaborators bundles the external contracts one cycle consumes.
// Source, Miner, Generator, and Compiler are required; SLO and Sink are
// optional.
type Collaborators struct {
	Source    ObservationSource
	Miner     PatternMiner
	Generator ProposalGenerator
	Compiler  Compiler
	SLO       SLOMonitor
	Sink      KnowledgeSink
}

// Controller is the autonomous loop coordinator.
//
// CRITICAL: Run must be called from exactly one goroutine. RunCycle may
// be called concurrently with Run (manual trigger); the cycle mutex
// guarantees a single active cycle either way. All other methods are
// safe from any goroutine.
type Controller struct {
	core      Core
	collab    Collaborators
	tokens    CycleTokenGenerator
	clock     func() time.Time
	retryBase time.Duration

	// cycleMu serializes cycles: one active cycle, ever.
	cycleMu sync.Mutex

	mu            sync.Mutex
	cfg           Config
	health        Health
	pauseReason   string
	interval      time.Duration
	cycleCount    uint64
	successCount  uint64
	failureCount  uint64
	retryCount    int
	lastError     string
	lastErrorTime time.Time
	startedAt     time.Time
	history       []FeedbackCycle

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTokenGenerator overrides the cycle token source. Tests pass a
// FixedGenerator for deterministic trails.
func WithTokenGenerator(g CycleTokenGenerator) ControllerOption {
	return func(c *Controller) {
		c.tokens = g
	}
}

// WithClock overrides the controller's time source.
func WithClock(fn func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.clock = fn
	}
}

// NewController builds a controller. The config is validated; required
// core pieces and collaborators must be present.
func NewController(cfg Config, core Core, collab Collaborators, opts ...ControllerOption) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}
	if core.Promoter == nil {
		return nil, errors.New("loop: promoter is required")
	}
	if core.Trail == nil {
		return nil, errors.New("loop: audit trail is required")
	}
	if collab.Source == nil {
		return nil, errors.New("loop: observation source is required")
	}
	if collab.Miner == nil {
		return nil, errors.New("loop: pattern miner is required")
	}
	if collab.Generator == nil {
		return nil, errors.New("loop: proposal generator is required")
	}
	if collab.Compiler == nil {
		return nil, errors.New("loop: compiler is required")
	}

	if core.Rollback == nil {
		core.Rollback = rollback.NewManager(core.Promoter, core.Trail)
	}
	if core.Strategy == nil {
		core.Strategy = adaptive.NewStrategy(adaptive.WithWindowSize(cfg.WindowSize))
	}
	if core.Validator == nil {
		core.Validator = invariant.MustValidator(invariant.DefaultPolicy())
	}

	c := &Controller{
		core:      core,
		collab:    collab,
		tokens:    UUIDv7Generator{},
		clock:     time.Now,
		retryBase: retryBaseDelay,
		cfg:       cfg,
		health:    HealthStopped,
		interval:  cfg.CycleInterval,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes cycles on a timer until the context is cancelled or Stop
// is called. The in-flight cycle always completes before Run returns.
//
// Cycle errors never end the loop: they consume the retry budget with
// exponential backoff, and exhausting the budget pauses the controller
// instead of stopping it. A paused controller polls its health until
// Resume.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.health == HealthRunning {
		c.mu.Unlock()
		return errors.New("loop: already running")
	}
	c.health = HealthRunning
	c.startedAt = c.clock()
	c.mu.Unlock()

	slog.Info("controller starting",
		"interval", c.Config().CycleInterval,
		"max_proposals", c.Config().MaxProposals)

	defer func() {
		c.mu.Lock()
		c.health = HealthStopped
		cycles := c.cycleCount
		c.mu.Unlock()
		slog.Info("controller stopped", "cycles_run", cycles)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		if c.Health() == HealthPaused {
			if err := c.wait(ctx, pausePollInterval); err != nil {
				return nil
			}
			continue
		}

		_, err := c.RunCycle(ctx, audit.TriggerScheduled)
		if err != nil {
			cfg := c.Config()
			c.mu.Lock()
			c.retryCount++
			retries := c.retryCount
			c.mu.Unlock()

			if retries > cfg.MaxRetries {
				c.pauseWithAudit(ctx, c.lastCycleNumber(),
					fmt.Sprintf("retry budget exhausted after %d consecutive cycle failures", retries))
				continue
			}
			delay := retryDelay(c.retryBase, retries-1, cfg.MaxCycleInterval)
			slog.Warn("cycle failed, backing off",
				"error", err, "retry", retries, "max_retries", cfg.MaxRetries, "delay", delay)
			if werr := c.wait(ctx, delay); werr != nil {
				return nil
			}
			continue
		}

		c.mu.Lock()
		c.retryCount = 0
		delay := c.interval
		c.mu.Unlock()
		if werr := c.wait(ctx, delay); werr != nil {
			return nil
		}
	}
}

// wait blocks for d, waking early on context cancel or Stop.
func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-c.stopCh:
		if !timer.Stop() {
			<-timer.C
		}
		return errStopped
	case <-timer.C:
		return nil
	}
}

// Stop requests shutdown. The in-flight cycle completes; Run returns
// after it. A stopped controller cannot be restarted.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Pause moves the controller to Paused. The Run loop keeps polling but
// executes no cycles until Resume.
func (c *Controller) Pause(ctx context.Context, reason string) {
	c.pauseWithAudit(ctx, c.lastCycleNumber(), reason)
}

func (c *Controller) pauseWithAudit(ctx context.Context, cycleNumber uint64, reason string) {
	c.mu.Lock()
	if c.health != HealthRunning {
		c.mu.Unlock()
		return
	}
	c.health = HealthPaused
	c.pauseReason = reason
	c.mu.Unlock()

	slog.Warn("controller paused", "reason", reason)
	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:   audit.EventLoopPaused,
		Reason: reason,
	}); err != nil {
		slog.Error("failed to audit pause", "error", err)
	}
}

// Resume moves a paused controller back to Running and resets the retry
// budget. No-op unless paused.
func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	if c.health != HealthPaused {
		c.mu.Unlock()
		return
	}
	c.health = HealthRunning
	c.pauseReason = ""
	c.retryCount = 0
	c.mu.Unlock()

	slog.Info("controller resumed")
	if _, err := c.core.Trail.Record(ctx, c.lastCycleNumber(), audit.Event{
		Type: audit.EventLoopResumed,
	}); err != nil {
		slog.Error("failed to audit resume", "error", err)
	}
}

// UpdateConfig validates and swaps the configuration. The adaptive
// interval is clamped into the new bounds.
func (c *Controller) UpdateConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("loop config: %w", err)
	}
	c.mu.Lock()
	c.cfg = cfg
	if c.interval < cfg.MinCycleInterval {
		c.interval = cfg.MinCycleInterval
	}
	if c.interval > cfg.MaxCycleInterval {
		c.interval = cfg.MaxCycleInterval
	}
	c.mu.Unlock()

	slog.Info("config updated", "interval", cfg.CycleInterval, "max_proposals", cfg.MaxProposals)
	if _, err := c.core.Trail.Record(ctx, c.lastCycleNumber(), audit.Event{
		Type: audit.EventConfigUpdated,
		Details: map[string]string{
			"cycle_interval": cfg.CycleInterval.String(),
			"max_proposals":  strconv.Itoa(cfg.MaxProposals),
		},
	}); err != nil {
		slog.Error("failed to audit config update", "error", err)
	}
	return nil
}

// Config returns a copy of the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Health returns the controller's current health.
func (c *Controller) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// CurrentSnapshot returns the live descriptor (nil before genesis).
// Wait-free passthrough to the promoter.
func (c *Controller) CurrentSnapshot() *snapshot.Descriptor {
	return c.core.Promoter.Current()
}

// lastCycleNumber is the number of the most recent cycle, 0 when no
// cycle has run. Operational events (pause, resume, config updates) are
// recorded under it.
func (c *Controller) lastCycleNumber() uint64 {
	return c.core.Trail.NextCycleNumber() - 1
}

// RunCycle executes one complete cycle under the given trigger. Called
// by the Run loop every tick and by operators for manual cycles; the
// cycle mutex keeps the two from overlapping.
func (c *Controller) RunCycle(ctx context.Context, trigger audit.Trigger) (*FeedbackCycle, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.runCycle(ctx, trigger)
}

func (c *Controller) runCycle(ctx context.Context, trigger audit.Trigger) (*FeedbackCycle, error) {
	cfg := c.Config()
	cycleNumber := c.core.Trail.NextCycleNumber()
	started := c.clock()
	token := c.tokens.Generate()
	fc := &FeedbackCycle{
		CycleNumber: cycleNumber,
		Token:       token,
		Trigger:     trigger,
		StartedAt:   started.UTC(),
	}

	log := slog.With("cycle", cycleNumber, "token", token)
	log.Info("cycle started", "trigger", trigger)

	abort := func(step CycleStep, err error) (*FeedbackCycle, error) {
		fc.Outcome = OutcomeFailure
		fc.FailedStep = step
		fc.Error = err.Error()
		c.finishCycle(ctx, fc, started)
		log.Error("cycle aborted", "step", step, "error", err)
		return fc, NewCycleError(step, cycleNumber, err)
	}

	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:    audit.EventCycleStarted,
		Trigger: trigger,
		Details: map[string]string{"token": token},
	}); err != nil {
		return abort(StepAudit, err)
	}

	// Live-signal check on the promoted head comes before any new work:
	// a regressing head is rolled back, not built upon.
	if c.collab.SLO != nil {
		violation, err := c.collab.SLO.Check(ctx)
		if err != nil {
			return abort(StepObserve, err)
		}
		if violation != nil {
			log.Warn("SLO violation on live snapshot",
				"metric", violation.Metric, "observed", violation.Observed, "threshold", violation.Threshold)
			restored, rerr := c.core.Rollback.AutoRollbackOnSLOViolation(ctx, cycleNumber, *violation)
			if rerr != nil {
				return abort(StepPromote, rerr)
			}
			fc.Outcome = OutcomePartialSuccess
			fc.SnapshotID = restored.String()
			// The reversal landed, but the work it reversed was bad:
			// that is what the rolling window measures.
			c.core.Strategy.Observe(false)
			c.finishCycle(ctx, fc, started)
			c.adaptAfterCycle(ctx, cfg, fc.CycleNumber)
			log.Info("rolled back to previous snapshot", "snapshot", restored.Short())
			return fc, nil
		}
	}

	observations, err := c.collab.Source.Collect(ctx)
	if err != nil {
		return abort(StepObserve, err)
	}

	patterns, err := c.collab.Miner.Detect(ctx, observations)
	if err != nil {
		return abort(StepDetect, err)
	}

	if len(patterns) == 0 {
		// The quiet path: exactly the started/no-anomalies pair, no
		// proposal, validation, or promotion calls.
		if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{Type: audit.EventNoAnomalies}); err != nil {
			return abort(StepAudit, err)
		}
		fc.Outcome = OutcomeNoChange
		c.finishCycle(ctx, fc, started)
		log.Info("no anomalies detected")
		return fc, nil
	}
	fc.PatternsDetected = len(patterns)

	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:    audit.EventPatternsDetected,
		Details: map[string]string{"count": strconv.Itoa(len(patterns))},
	}); err != nil {
		return abort(StepAudit, err)
	}

	proposals, err := c.collab.Generator.Propose(ctx, patterns)
	if err != nil {
		return abort(StepPropose, err)
	}
	if len(proposals) == 0 {
		fc.Outcome = OutcomeNoChange
		c.finishCycle(ctx, fc, started)
		log.Info("patterns yielded no proposals")
		return fc, nil
	}
	if len(proposals) > cfg.MaxProposals {
		log.Info("capping proposals", "generated", len(proposals), "cap", cfg.MaxProposals)
		proposals = proposals[:cfg.MaxProposals]
	}

	promoted := 0
	failed := 0
	for _, proposal := range proposals {
		id, ok, err := c.processProposal(ctx, cfg, cycleNumber, proposal, log)
		if err != nil {
			return abort(StepAudit, err)
		}
		if ok {
			promoted++
			fc.SnapshotID = id.String()
		} else {
			failed++
		}
	}

	switch {
	case promoted > 0 && failed == 0:
		fc.Outcome = OutcomeSuccess
	case promoted > 0:
		fc.Outcome = OutcomePartialSuccess
	default:
		fc.Outcome = OutcomeFailure
		fc.FailedStep = StepPromote
		fc.Error = fmt.Sprintf("all %d candidates rejected", failed)
	}

	c.finishCycle(ctx, fc, started)
	c.adaptAfterCycle(ctx, cfg, fc.CycleNumber)
	log.Info("cycle completed",
		"outcome", fc.Outcome, "promoted", promoted, "failed", failed, "duration", fc.Duration)
	return fc, nil
}

// processProposal takes one candidate through compile, validation, and
// the promotion guard. Candidate-level failures are audited and
// recorded, then reported as ok=false; only audit write failures return
// an error, which aborts the whole cycle.
func (c *Controller) processProposal(ctx context.Context, cfg Config, cycleNumber uint64, proposal *Proposal, log *slog.Logger) (snapshot.ID, bool, error) {
	candidateID := proposal.CandidateID()
	log = log.With("candidate", candidateID.Short())

	situation := ""
	if len(proposal.Patterns) > 0 {
		situation = proposal.Patterns[0].Situation
	}

	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventProposalGenerated,
		SnapshotID: candidateID.String(),
		Details:    map[string]string{"changes": strconv.Itoa(len(proposal.Changes))},
	}); err != nil {
		return candidateID, false, err
	}

	failWith := func(eventType audit.EventType, cause error) (snapshot.ID, bool, error) {
		if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
			Type:       eventType,
			SnapshotID: candidateID.String(),
			Reason:     cause.Error(),
		}); err != nil {
			return candidateID, false, err
		}
		var generation uint64
		if cur := c.core.Promoter.Current(); cur != nil {
			generation = cur.Generation + 1
		}
		c.core.Rollback.RecordFailure(candidateID, cause, generation)
		c.core.Strategy.Observe(false)
		c.recordActionOutcome(ctx, situation, candidateID.String(), false)
		log.Warn("candidate rejected", "event", eventType, "error", cause)
		return candidateID, false, nil
	}

	// Risk budget first: the adaptive strategy shrinks the allowed
	// change rate while recent cycles are failing.
	allowed := c.core.Strategy.AllowedChangeRate(cfg.MaxChangeRate)
	if proposal.ChangeRate > allowed {
		return failWith(audit.EventValidationFailed,
			fmt.Errorf("change rate %.4f exceeds allowed %.4f", proposal.ChangeRate, allowed))
	}

	artifacts, err := c.collab.Compiler.Compile(ctx, proposal)
	if err != nil {
		return failWith(audit.EventValidationFailed, fmt.Errorf("compile: %w", err))
	}

	parentID := ""
	visited := make(map[string]bool)
	if cur := c.core.Promoter.Current(); cur != nil {
		parentID = cur.SnapshotID.String()
	}
	for _, d := range c.core.Promoter.Chain() {
		visited[d.SnapshotID.String()] = true
	}

	hard, verr := c.core.Validator.CheckAll(candidateID.String(), parentID, visited, artifacts.Metrics)
	receipt := promotion.NewReceipt(candidateID, hard, c.clock().UTC())
	if verr != nil {
		return failWith(audit.EventValidationFailed, verr)
	}
	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventValidationPassed,
		SnapshotID: candidateID.String(),
	}); err != nil {
		return candidateID, false, err
	}

	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventPromotionStarted,
		SnapshotID: candidateID.String(),
	}); err != nil {
		return candidateID, false, err
	}

	swapStart := c.clock()
	ready, err := promotion.Begin(candidateID, artifacts, receipt,
		promotion.WithGracePeriod(cfg.GracePeriod)).Ready()
	if err != nil {
		return failWith(audit.EventPromotionFailed, err)
	}
	promoted, err := ready.Promote(c.core.Promoter, c.clock().UTC())
	if err != nil {
		return failWith(audit.EventPromotionFailed, err)
	}
	if err := promoted.VerifyPromoted(c.core.Promoter); err != nil {
		return failWith(audit.EventPromotionFailed, err)
	}
	elapsed := c.clock().Sub(swapStart)

	c.core.Rollback.RecordPromotion(candidateID, elapsed, promoted.Descriptor().Generation)
	if _, err := c.core.Trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventPromotionSucceeded,
		SnapshotID: candidateID.String(),
		Details: map[string]string{
			"generation": strconv.FormatUint(promoted.Descriptor().Generation, 10),
		},
	}); err != nil {
		return candidateID, false, err
	}
	c.core.Strategy.Observe(true)
	c.recordActionOutcome(ctx, situation, candidateID.String(), true)
	log.Info("candidate promoted", "generation", promoted.Descriptor().Generation, "swap", elapsed)
	return candidateID, true, nil
}

// recordActionOutcome feeds the knowledge sink, best effort.
func (c *Controller) recordActionOutcome(ctx context.Context, situation, actionID string, ok bool) {
	if c.collab.Sink == nil {
		return
	}
	if err := c.collab.Sink.RecordSuccess(ctx, situation, actionID, ok); err != nil {
		slog.Warn("knowledge sink rejected action outcome", "action", actionID, "error", err)
	}
}

// finishCycle stamps the record, feeds the sink, and folds the cycle
// into counters and the history ring.
func (c *Controller) finishCycle(ctx context.Context, fc *FeedbackCycle, started time.Time) {
	now := c.clock()
	fc.CompletedAt = now.UTC()
	fc.Duration = now.Sub(started)

	if c.collab.Sink != nil {
		if err := c.collab.Sink.RecordCycle(ctx, fc); err != nil {
			slog.Warn("knowledge sink rejected cycle record", "cycle", fc.CycleNumber, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleCount++
	switch fc.Outcome {
	case OutcomeSuccess, OutcomePartialSuccess:
		c.successCount++
	case OutcomeFailure:
		c.failureCount++
		c.lastError = fc.Error
		c.lastErrorTime = now
	}
	if len(c.history) == historyCapacity {
		copy(c.history, c.history[1:])
		c.history[historyCapacity-1] = *fc
	} else {
		c.history = append(c.history, *fc)
	}
}

// adaptAfterCycle runs the adapt step: move the interval inside its
// bounds and self-pause when the rolling failure rate crosses the
// threshold.
func (c *Controller) adaptAfterCycle(ctx context.Context, cfg Config, cycleNumber uint64) {
	c.mu.Lock()
	c.interval = c.core.Strategy.NextInterval(c.interval, cfg.MinCycleInterval, cfg.MaxCycleInterval)
	c.mu.Unlock()

	if c.core.Strategy.ShouldPause(cfg.FailureThreshold) {
		ratio := c.core.Strategy.FailureRate()
		c.pauseWithAudit(ctx, cycleNumber,
			fmt.Sprintf("rolling failure rate %.0f%% reached threshold %.0f%%", ratio*100, cfg.FailureThreshold*100))
	}
}

// LoopState is the operator-visible controller state.
type LoopState struct {
	Health        Health        `json:"health"`
	PauseReason   string        `json:"pause_reason,omitempty"`
	CycleCount    uint64        `json:"cycle_count"`
	SuccessCount  uint64        `json:"success_count"`
	FailureCount  uint64        `json:"failure_count"`
	ChangeRate    float64       `json:"change_rate"`
	RetryCount    int           `json:"retry_count"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time"`
	StartedAt     time.Time     `json:"started_at"`
	Interval      time.Duration `json:"interval"`
}

// Stats is the condensed health summary.
type Stats struct {
	Uptime    time.Duration `json:"uptime"`
	ErrorRate float64       `json:"error_rate"`
	CyclesRun uint64        `json:"cycles_run"`
}

// State returns the current loop state.
func (c *Controller) State() LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LoopState{
		Health:        c.health,
		PauseReason:   c.pauseReason,
		CycleCount:    c.cycleCount,
		SuccessCount:  c.successCount,
		FailureCount:  c.failureCount,
		ChangeRate:    c.core.Strategy.AllowedChangeRate(c.cfg.MaxChangeRate),
		RetryCount:    c.retryCount,
		LastError:     c.lastError,
		LastErrorTime: c.lastErrorTime,
		StartedAt:     c.startedAt,
		Interval:      c.interval,
	}
}

// Stats returns uptime, error rate, and cycles run.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var uptime time.Duration
	if !c.startedAt.IsZero() {
		uptime = c.clock().Sub(c.startedAt)
	}
	var errorRate float64
	if c.cycleCount > 0 {
		errorRate = float64(c.failureCount) / float64(c.cycleCount)
	}
	return Stats{Uptime: uptime, ErrorRate: errorRate, CyclesRun: c.cycleCount}
}

// History returns the most recent limit cycle records, oldest first.
// Non-positive limit returns the full retained history.
func (c *Controller) History(limit int) []FeedbackCycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]FeedbackCycle, limit)
	copy(out, c.history[n-limit:])
	return out
}
