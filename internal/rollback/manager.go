package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/snapshot"
)

// DefaultCapacity bounds the promotion history ring.
const DefaultCapacity = 100

// PromotionRecord is one ring entry: the outcome of one promotion or
// rollback attempt.
type PromotionRecord struct {
	SnapshotID snapshot.ID   `json:"snapshot_id"`
	Generation uint64        `json:"generation"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// SLOViolation describes a live-metric breach that forces a rollback.
type SLOViolation struct {
	Metric    string
	Observed  string
	Threshold string
}

func (v SLOViolation) String() string {
	return fmt.Sprintf("%s observed %s, threshold %s", v.Metric, v.Observed, v.Threshold)
}

// Manager owns the bounded outcome history and performs reversals
// through the promoter, auditing each one like a forward promotion.
type Manager struct {
	mu       sync.Mutex
	promoter *promotion.Promoter
	trail    *audit.Trail

	history  []PromotionRecord
	capacity int

	// lastPromoted is the most recent successfully recorded head;
	// previous is the head it displaced, the O(1) immediate target.
	lastPromoted *snapshot.ID
	previous     *snapshot.ID

	clock func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity overrides the ring capacity.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		m.clock = fn
	}
}

// NewManager builds a Manager over the given promoter and trail.
func NewManager(promoter *promotion.Promoter, trail *audit.Trail, opts ...Option) *Manager {
	m := &Manager{
		promoter: promoter,
		trail:    trail,
		capacity: DefaultCapacity,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordPromotion records a successful promotion and shifts the
// previous-current pointer to the head this promotion displaced.
func (m *Manager) RecordPromotion(id snapshot.ID, duration time.Duration, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(PromotionRecord{
		SnapshotID: id,
		Generation: generation,
		Success:    true,
		Duration:   duration,
		RecordedAt: m.clock().UTC(),
	})
}

// RecordFailure records a failed promotion attempt. Failures do not
// move the previous-current pointer: the head never changed.
func (m *Manager) RecordFailure(id snapshot.ID, cause error, generation uint64) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(PromotionRecord{
		SnapshotID: id,
		Generation: generation,
		Success:    false,
		Error:      msg,
		RecordedAt: m.clock().UTC(),
	})
}

func (m *Manager) recordLocked(rec PromotionRecord) {
	if rec.Success {
		m.previous = m.lastPromoted
		id := rec.SnapshotID
		m.lastPromoted = &id
	}
	if len(m.history) == m.capacity {
		copy(m.history, m.history[1:])
		m.history[m.capacity-1] = rec
		return
	}
	m.history = append(m.history, rec)
}

// RollbackImmediate re-promotes the snapshot displaced by the most
// recent successful promotion. Fails with NO_PREVIOUS_SNAPSHOT when no
// displaced head exists (before the second successful promotion).
func (m *Manager) RollbackImmediate(ctx context.Context, cycleNumber uint64) (snapshot.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return snapshot.ID{}, NewError(ErrCodeNoPreviousSnapshot, snapshot.ID{},
			"no previous snapshot to roll back to")
	}
	return m.rollbackLocked(ctx, cycleNumber, *m.previous, "immediate rollback", "")
}

// RollbackToSnapshot re-promotes an explicitly named target. The target
// must appear in the history ring as a successful promotion and must not
// already be current; anything evicted, unknown, failed, or current is
// INVALID_ROLLBACK_TARGET.
func (m *Manager) RollbackToSnapshot(ctx context.Context, cycleNumber uint64, target snapshot.ID) (snapshot.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.promoter.Current(); cur != nil && cur.SnapshotID == target {
		return snapshot.ID{}, NewError(ErrCodeInvalidRollbackTarget, target,
			"target is already current")
	}
	found := false
	for _, rec := range m.history {
		if rec.Success && rec.SnapshotID == target {
			found = true
			break
		}
	}
	if !found {
		return snapshot.ID{}, NewError(ErrCodeInvalidRollbackTarget, target,
			"target is not a successful promotion in retained history")
	}
	return m.rollbackLocked(ctx, cycleNumber, target, "explicit rollback target", "")
}

// AutoRollbackOnSLOViolation reverses to the immediately previous
// snapshot in response to a live SLO breach. The audit entries carry the
// slo_violation trigger and the breached metric.
func (m *Manager) AutoRollbackOnSLOViolation(ctx context.Context, cycleNumber uint64, v SLOViolation) (snapshot.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return snapshot.ID{}, NewError(ErrCodeNoPreviousSnapshot, snapshot.ID{},
			"SLO violation but no previous snapshot to roll back to")
	}
	return m.rollbackLocked(ctx, cycleNumber, *m.previous, v.String(), audit.TriggerSLOViolation)
}

// rollbackLocked performs the reversal: a forward promotion of target
// with the next generation, parented on the head being abandoned.
func (m *Manager) rollbackLocked(ctx context.Context, cycleNumber uint64, target snapshot.ID, reason string, trigger audit.Trigger) (snapshot.ID, error) {
	_, err := m.trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventRollbackInitiated,
		SnapshotID: target.String(),
		Trigger:    trigger,
		Reason:     reason,
	})
	if err != nil {
		return snapshot.ID{}, WrapError(ErrCodeRollbackFailed, target, "audit rollback start", err)
	}

	var parent *snapshot.ID
	var generation uint64
	if cur := m.promoter.Current(); cur != nil {
		id := cur.SnapshotID
		parent = &id
		generation = cur.Generation + 1
	}

	started := m.clock()
	d := snapshot.NewDescriptor(target, parent, generation, started.UTC())
	if _, err := m.promoter.Promote(d); err != nil {
		m.recordLocked(PromotionRecord{
			SnapshotID: target,
			Generation: generation,
			Success:    false,
			Error:      err.Error(),
			RecordedAt: m.clock().UTC(),
		})
		return snapshot.ID{}, WrapError(ErrCodeRollbackFailed, target, "re-promote target", err)
	}

	m.recordLocked(PromotionRecord{
		SnapshotID: target,
		Generation: generation,
		Success:    true,
		Duration:   m.clock().Sub(started),
		RecordedAt: m.clock().UTC(),
	})

	_, err = m.trail.Record(ctx, cycleNumber, audit.Event{
		Type:       audit.EventRollbackCompleted,
		SnapshotID: target.String(),
		Trigger:    trigger,
		Details:    map[string]string{"generation": fmt.Sprintf("%d", generation)},
	})
	if err != nil {
		// The swap already landed; the reversal is live even though
		// its completion entry is missing.
		return target, WrapError(ErrCodeRollbackFailed, target, "audit rollback completion", err)
	}
	return target, nil
}

// LastSuccessfulPromotion scans the ring newest-first for the most
// recent success.
func (m *Manager) LastSuccessfulPromotion() (PromotionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Success {
			return m.history[i], true
		}
	}
	return PromotionRecord{}, false
}

// History returns a copy of the ring, oldest first.
func (m *Manager) History() []PromotionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PromotionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Capacity returns the ring's bound.
func (m *Manager) Capacity() int {
	return m.capacity
}
