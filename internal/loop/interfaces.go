package loop

import (
	"context"

	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
)

// ObservationSource supplies the telemetry a cycle starts from.
type ObservationSource interface {
	Collect(ctx context.Context) ([]Observation, error)
}

// PatternMiner finds regularities in observations. An empty result is
// the normal quiet case, not an error.
type PatternMiner interface {
	Detect(ctx context.Context, observations []Observation) ([]Pattern, error)
}

// ProposalGenerator turns patterns into candidate schema changes. Each
// returned proposal becomes one promotion candidate.
type ProposalGenerator interface {
	Propose(ctx context.Context, patterns []Pattern) ([]*Proposal, error)
}

// Compiler produces the deployable artifacts for a proposal. Must be
// deterministic: compiling the same proposal twice yields byte-identical
// artifacts and the same content hash.
type Compiler interface {
	Compile(ctx context.Context, proposal *Proposal) (*promotion.CompiledArtifacts, error)
}

// SLOMonitor reports live-signal breaches on the currently promoted
// snapshot. Optional; when absent the controller never auto-rolls-back.
type SLOMonitor interface {
	Check(ctx context.Context) (*rollback.SLOViolation, error)
}

// KnowledgeSink receives cycle records and action outcomes.
// Fire-and-forget: the controller logs sink errors and moves on, never
// depending on the sink's persistence guarantees.
type KnowledgeSink interface {
	RecordCycle(ctx context.Context, cycle *FeedbackCycle) error
	RecordSuccess(ctx context.Context, situation, actionID string, ok bool) error
}
