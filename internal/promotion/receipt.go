package promotion

import (
	"time"

	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/snapshot"
)

// ValidationReceipt is the immutable proof that a candidate passed its
// validation step: one boolean per check category plus the aggregate
// invariant and readiness verdicts.
//
// A receipt is created once per candidate and only read afterward. The
// promotion guard refuses to enter Ready without a receipt whose
// InvariantsPreserved and ProductionReady flags are both true.
type ValidationReceipt struct {
	// CandidateID is the snapshot the receipt vouches for.
	CandidateID snapshot.ID `json:"candidate_id"`

	// StaticChecks reports schema/shape validation.
	StaticChecks bool `json:"static_checks"`

	// DynamicChecks reports behavior validation against observations.
	DynamicChecks bool `json:"dynamic_checks"`

	// PerformanceChecks reports the measured-bounds validation.
	PerformanceChecks bool `json:"performance_checks"`

	// InvariantsPreserved is true only when Q1-Q5 all held.
	InvariantsPreserved bool `json:"invariants_preserved"`

	// ProductionReady is the aggregate go/no-go verdict.
	ProductionReady bool `json:"production_ready"`

	// IssuedAt is when validation completed.
	IssuedAt time.Time `json:"issued_at"`
}

// NewReceipt builds a receipt from a full invariant-check result.
// The category booleans derive from which invariants held: static maps to
// Q1+Q2, dynamic to Q3+Q4, performance to Q5. ProductionReady is true only
// when every category passed.
func NewReceipt(candidateID snapshot.ID, h invariant.HardInvariants, issuedAt time.Time) *ValidationReceipt {
	static := h.Q1NoRetrocausation && h.Q2TypeSoundness
	dynamic := h.Q3GuardPreservation && h.Q4SLOCompliance
	perf := h.Q5PerformanceBounds
	return &ValidationReceipt{
		CandidateID:         candidateID,
		StaticChecks:        static,
		DynamicChecks:       dynamic,
		PerformanceChecks:   perf,
		InvariantsPreserved: h.AllPreserved(),
		ProductionReady:     static && dynamic && perf,
		IssuedAt:            issuedAt,
	}
}

// CompiledArtifacts is the deployable representation of a candidate as
// produced by the external compiler, plus the measurements taken during
// compilation. Compilation is idempotent and deterministic: compiling the
// same candidate twice yields byte-identical artifacts and the same
// content hash.
type CompiledArtifacts struct {
	// Blob is the deployable projection payload.
	Blob []byte `json:"-"`

	// ContentHash is the compiler's digest over Blob.
	ContentHash string `json:"content_hash"`

	// Metrics carries the measured behavior fed to invariant checking.
	Metrics invariant.Metrics `json:"-"`
}
