package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
	"github.com/roach88/autarch/internal/snapshot"
)

// defaultChangeRate is the schema fraction a scripted proposal touches
// when the scenario does not say otherwise. Well inside the stock risk
// budget so unannotated proposals promote cleanly.
const defaultChangeRate = 0.02

// script feeds the scenario's cycle scripts to the loop collaborators.
// One script value implements every collaborator interface; the run
// loop advances the cursor before each cycle and the collaborators read
// the current cycle's entry. Proposals built by the generator are
// remembered so the compiler and the snapshot assertions can resolve
// them later.
type script struct {
	mu     sync.Mutex
	cycles []CycleScript
	cursor int
	clock  func() time.Time

	// plans maps generated proposals back to their scripts.
	plans map[*loop.Proposal]*ProposalScript

	// candidates maps proposal targets to candidate snapshot ids.
	candidates map[string]string
}

func newScript(cycles []CycleScript, clock func() time.Time) *script {
	return &script{
		cycles:     cycles,
		clock:      clock,
		plans:      make(map[*loop.Proposal]*ProposalScript),
		candidates: make(map[string]string),
	}
}

// advance points the collaborators at cycle i's script.
func (s *script) advance(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = i
}

func (s *script) current() *CycleScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &s.cycles[s.cursor]
}

// Collect implements loop.ObservationSource.
func (s *script) Collect(ctx context.Context) ([]loop.Observation, error) {
	cs := s.current()
	if cs.ObserveError != "" {
		return nil, errors.New(cs.ObserveError)
	}
	now := s.clock()
	observations := make([]loop.Observation, len(cs.Observations))
	for i, o := range cs.Observations {
		source := o.Source
		if source == "" {
			source = "scenario"
		}
		observations[i] = loop.Observation{
			Situation: o.Situation,
			Source:    source,
			Values:    o.Values,
			At:        now,
		}
	}
	return observations, nil
}

// Detect implements loop.PatternMiner. The scripted miner ignores the
// observations and reports exactly the scripted patterns.
func (s *script) Detect(ctx context.Context, _ []loop.Observation) ([]loop.Pattern, error) {
	cs := s.current()
	patterns := make([]loop.Pattern, len(cs.Patterns))
	for i, p := range cs.Patterns {
		patterns[i] = loop.Pattern{
			Kind:        p.Kind,
			Situation:   p.Situation,
			Confidence:  p.Confidence,
			Occurrences: p.Occurrences,
			Description: p.Description,
		}
	}
	return patterns, nil
}

// Propose implements loop.ProposalGenerator.
func (s *script) Propose(ctx context.Context, patterns []loop.Pattern) ([]*loop.Proposal, error) {
	cs := s.current()
	proposals := make([]*loop.Proposal, 0, len(cs.Proposals))
	for i := range cs.Proposals {
		proposals = append(proposals, s.buildProposal(&cs.Proposals[i], patterns))
	}
	return proposals, nil
}

// buildProposal renders one script entry to a proposal and remembers
// the mapping for the compiler and for snapshot assertions.
func (s *script) buildProposal(ps *ProposalScript, patterns []loop.Pattern) *loop.Proposal {
	op := ps.Op
	if op == "" {
		op = "add_field"
	}
	justification := ps.Justification
	if justification == "" {
		justification = fmt.Sprintf("scripted change to %s", ps.Target)
	}
	rate := ps.ChangeRate
	if rate == 0 {
		rate = defaultChangeRate
	}
	p := &loop.Proposal{
		Changes: []loop.SchemaChange{{
			Op:     op,
			Target: ps.Target,
			Detail: ps.Detail,
		}},
		Justification: justification,
		Patterns:      patterns,
		ChangeRate:    rate,
		ProposedAt:    s.clock(),
	}

	s.mu.Lock()
	s.plans[p] = ps
	s.candidates[ps.Target] = p.CandidateID().String()
	s.mu.Unlock()
	return p
}

// Compile implements loop.Compiler. Artifacts derive from the proposal
// content alone, so compiling the same proposal twice yields the same
// blob and hash.
func (s *script) Compile(ctx context.Context, proposal *loop.Proposal) (*promotion.CompiledArtifacts, error) {
	s.mu.Lock()
	ps := s.plans[proposal]
	s.mu.Unlock()
	if ps == nil {
		return nil, fmt.Errorf("compile: unknown proposal %q", proposal.Justification)
	}
	if ps.CompileError != "" {
		return nil, errors.New(ps.CompileError)
	}
	metrics, err := ps.Metrics.resolve()
	if err != nil {
		return nil, err
	}
	blob := []byte(proposal.Justification)
	return &promotion.CompiledArtifacts{
		Blob:        blob,
		ContentHash: snapshot.ComputeID(blob).String(),
		Metrics:     metrics,
	}, nil
}

// Check implements loop.SLOMonitor.
func (s *script) Check(ctx context.Context) (*rollback.SLOViolation, error) {
	cs := s.current()
	if cs.SLOViolation == nil {
		return nil, nil
	}
	return &rollback.SLOViolation{
		Metric:    cs.SLOViolation.Metric,
		Observed:  cs.SLOViolation.Observed,
		Threshold: cs.SLOViolation.Threshold,
	}, nil
}

// candidateIDs returns a copy of the target-to-snapshot-id map.
func (s *script) candidateIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.candidates))
	for k, v := range s.candidates {
		out[k] = v
	}
	return out
}
