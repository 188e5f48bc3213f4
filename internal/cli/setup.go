package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/knowledge"
	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/policy"
	"github.com/roach88/autarch/internal/promotion"
	"github.com/roach88/autarch/internal/rollback"
)

// runtime bundles everything a live controller needs: configuration,
// the persistent stores, and the controller itself.
type runtime struct {
	cfg   loop.Config
	store *knowledge.Store
	trail *audit.Trail
	ctrl  *loop.Controller
}

// buildRuntime wires a controller from a config file and an optional
// policy pack. An empty configPath uses the stock configuration; an
// empty policyPath uses the stock thresholds.
//
// Until real observation and proposal integrations are plugged in, the
// controller runs with quiet collaborators: no observations, no
// patterns, every cycle takes the quiet path while the audit trail,
// knowledge store, and health machinery stay live.
func buildRuntime(configPath, policyPath string) (*runtime, error) {
	cfg := loop.DefaultConfig()
	if configPath != "" {
		loaded, err := policy.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	var validator *invariant.Validator
	if policyPath != "" {
		pol, err := policy.LoadPolicyFile(policyPath)
		if err != nil {
			return nil, err
		}
		validator, err = invariant.NewValidator(*pol)
		if err != nil {
			return nil, err
		}
	}

	signer, err := audit.LoadOrCreateSigner(cfg.SigningKeyPath)
	if err != nil {
		return nil, err
	}

	trail, err := audit.Open(cfg.AuditPath, signer)
	if err != nil {
		return nil, err
	}

	store, err := knowledge.Open(cfg.KnowledgePath)
	if err != nil {
		trail.Close()
		return nil, err
	}

	promoter := promotion.NewPromoter()
	ctrl, err := loop.NewController(cfg,
		loop.Core{
			Promoter:  promoter,
			Trail:     trail,
			Rollback:  rollback.NewManager(promoter, trail),
			Validator: validator,
		},
		loop.Collaborators{
			Source:    quietCollaborators{},
			Miner:     quietCollaborators{},
			Generator: quietCollaborators{},
			Compiler:  quietCollaborators{},
			Sink:      store,
		},
	)
	if err != nil {
		store.Close()
		trail.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, store: store, trail: trail, ctrl: ctrl}, nil
}

// Close releases the runtime's stores. Safe after a failed start.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Error("error closing knowledge store", "error", err)
		}
	}
	if rt.trail != nil {
		if err := rt.trail.Close(); err != nil {
			slog.Error("error closing audit trail", "error", err)
		}
	}
}

// quietCollaborators is the stock wiring when no integration supplies
// observations. Collect and Detect return nothing, so every cycle ends
// on the quiet path; Propose and Compile exist to satisfy the
// controller's required contracts and are never reached.
type quietCollaborators struct{}

func (quietCollaborators) Collect(ctx context.Context) ([]loop.Observation, error) {
	return nil, nil
}

func (quietCollaborators) Detect(ctx context.Context, observations []loop.Observation) ([]loop.Pattern, error) {
	return nil, nil
}

func (quietCollaborators) Propose(ctx context.Context, patterns []loop.Pattern) ([]*loop.Proposal, error) {
	return nil, nil
}

func (quietCollaborators) Compile(ctx context.Context, proposal *loop.Proposal) (*promotion.CompiledArtifacts, error) {
	return nil, promotion.NewError(promotion.ErrCodeValidationFailed, proposal.CandidateID(),
		"no compiler integration configured")
}
