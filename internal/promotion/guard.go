package promotion

import (
	"time"

	"github.com/roach88/autarch/internal/snapshot"
)

// The promotion guard is a linear three-phase state machine whose phases
// are distinct Go types. Wrong-phase calls do not compile: a Preparing
// handle has no Promote method, a Promoted handle has no transitions at
// all. Each transition consumes its handle; a consumed handle fails every
// further call with PROMOTION_FAILED rather than repeating work.

// Preparing is phase one of a promotion attempt: candidate, artifacts,
// and receipt gathered, nothing verified yet.
//
// Ownership: exclusively held by the single caller driving this attempt.
// Not safe for concurrent use - a promotion attempt has one driver.
type Preparing struct {
	candidateID snapshot.ID
	artifacts   *CompiledArtifacts
	receipt     *ValidationReceipt
	grace       time.Duration
	consumed    bool
}

// GuardOption configures a promotion attempt.
type GuardOption func(*Preparing)

// WithGracePeriod sets the minimum interval since the last promotion that
// must have elapsed before this attempt may land. Zero (the default)
// disables the gate. Rollbacks bypass it - only forward promotions
// through the guard are throttled.
func WithGracePeriod(d time.Duration) GuardOption {
	return func(p *Preparing) {
		p.grace = d
	}
}

// Begin opens a promotion attempt in the Preparing phase.
// Compilation must already be complete; the guard performs no compilation
// of its own.
func Begin(candidateID snapshot.ID, artifacts *CompiledArtifacts, receipt *ValidationReceipt, opts ...GuardOption) *Preparing {
	p := &Preparing{
		candidateID: candidateID,
		artifacts:   artifacts,
		receipt:     receipt,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready advances Preparing to Ready, consuming the handle.
//
// The gate: a receipt must exist (NO_VALIDATION_RECEIPT), its invariant
// verdict must be true (INVARIANTS_VIOLATED), and it must be marked
// production-ready (NOT_PRODUCTION_READY). No re-validation happens here;
// the receipt is trusted as the validation step's immutable output.
func (p *Preparing) Ready() (*Ready, error) {
	if p.consumed {
		return nil, NewError(ErrCodePromotionFailed, p.candidateID, "guard already consumed")
	}
	if p.receipt == nil {
		return nil, NewError(ErrCodeNoValidationReceipt, p.candidateID, "no validation receipt")
	}
	if !p.receipt.InvariantsPreserved {
		return nil, NewError(ErrCodeInvariantsViolated, p.candidateID, "receipt records invariant violations")
	}
	if !p.receipt.ProductionReady {
		return nil, NewError(ErrCodeNotProductionReady, p.candidateID, "receipt not production ready")
	}
	p.consumed = true
	return &Ready{
		candidateID: p.candidateID,
		artifacts:   p.artifacts,
		receipt:     p.receipt,
		grace:       p.grace,
	}, nil
}

// Ready is phase two: validated and cleared to land. The only permitted
// operation is Promote.
type Ready struct {
	candidateID snapshot.ID
	artifacts   *CompiledArtifacts
	receipt     *ValidationReceipt
	grace       time.Duration
	consumed    bool
}

// Promote performs the live swap, consuming the handle.
//
// This is the bounded-latency step: build the minimal descriptor, one
// atomic swap through the promoter, nothing else. The new descriptor's
// parent is whatever is current at swap time (nil for genesis) and its
// generation is parent generation + 1.
//
// The grace-period gate, when configured, rejects attempts landing within
// the window after the previous promotion with GRACE_PERIOD_NOT_MET.
func (r *Ready) Promote(promoter *Promoter, now time.Time) (*Promoted, error) {
	if r.consumed {
		return nil, NewError(ErrCodePromotionFailed, r.candidateID, "guard already consumed")
	}

	if r.grace > 0 {
		if last := promoter.LastPromotedAt(); !last.IsZero() && now.Sub(last) < r.grace {
			return nil, NewError(ErrCodeGracePeriodNotMet, r.candidateID,
				"promotion attempted inside grace period")
		}
	}

	var parent *snapshot.ID
	var generation uint64
	if cur := promoter.Current(); cur != nil {
		id := cur.SnapshotID
		parent = &id
		generation = cur.Generation + 1
	}

	d := snapshot.NewDescriptor(r.candidateID, parent, generation, now)
	if _, err := promoter.Promote(d); err != nil {
		return nil, err
	}

	r.consumed = true
	return &Promoted{
		descriptor: d,
		artifacts:  r.artifacts,
		receipt:    r.receipt,
	}, nil
}

// PromoteWithParent is Promote with an explicit claimed parent, used when
// the candidate was proposed against a specific snapshot rather than
// whatever is current. Promotion fails with SNAPSHOT_NOT_FOUND when the
// claimed parent was never retained, leaving current untouched.
func (r *Ready) PromoteWithParent(promoter *Promoter, parent *snapshot.ID, now time.Time) (*Promoted, error) {
	if r.consumed {
		return nil, NewError(ErrCodePromotionFailed, r.candidateID, "guard already consumed")
	}

	if r.grace > 0 {
		if last := promoter.LastPromotedAt(); !last.IsZero() && now.Sub(last) < r.grace {
			return nil, NewError(ErrCodeGracePeriodNotMet, r.candidateID,
				"promotion attempted inside grace period")
		}
	}

	var generation uint64
	if cur := promoter.Current(); cur != nil {
		generation = cur.Generation + 1
	}

	d := snapshot.NewDescriptor(r.candidateID, parent, generation, now)
	if _, err := promoter.Promote(d); err != nil {
		return nil, err
	}

	r.consumed = true
	return &Promoted{
		descriptor: d,
		artifacts:  r.artifacts,
		receipt:    r.receipt,
	}, nil
}

// Promoted is the terminal phase: the candidate is live. Read-only.
type Promoted struct {
	descriptor *snapshot.Descriptor
	artifacts  *CompiledArtifacts
	receipt    *ValidationReceipt
}

// SnapshotID returns the promoted snapshot's id.
func (pm *Promoted) SnapshotID() snapshot.ID {
	return pm.descriptor.SnapshotID
}

// Descriptor returns the descriptor built by the promotion.
func (pm *Promoted) Descriptor() *snapshot.Descriptor {
	return pm.descriptor
}

// Receipt returns the validation receipt that cleared the promotion.
func (pm *Promoted) Receipt() *ValidationReceipt {
	return pm.receipt
}

// Artifacts returns the compiled artifacts that went live.
func (pm *Promoted) Artifacts() *CompiledArtifacts {
	return pm.artifacts
}

// VerifyPromoted re-reads the promoter's current descriptor and fails
// with ATOMIC_OPERATION_FAILED if this promotion is no longer the live
// one (superseded by a later promotion or a rollback).
func (pm *Promoted) VerifyPromoted(promoter *Promoter) error {
	cur := promoter.Current()
	if cur == nil || cur.SnapshotID != pm.descriptor.SnapshotID {
		return NewError(ErrCodeAtomicOperationFailed, pm.descriptor.SnapshotID,
			"promoted snapshot is no longer current")
	}
	return nil
}
