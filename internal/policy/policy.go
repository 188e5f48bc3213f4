// Package policy loads operator-supplied configuration: invariant
// policies written in CUE and loop configuration written in YAML.
//
// Policies are validated against the embedded #Policy schema, so range
// errors surface at load time with source positions, not mid-cycle.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/autarch/internal/invariant"
)

//go:embed schema.cue
var policySchema string

// CompilePolicy parses a CUE value into an invariant.Policy.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is unified with the embedded #Policy schema before
// extraction, so range violations and unknown fields fail here with
// positions. Omitted fields take the schema defaults, which match
// invariant.DefaultPolicy.
func CompilePolicy(v cue.Value) (*invariant.Policy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := v.Context().CompileString(policySchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))
	if !def.Exists() {
		return nil, &CompileError{Field: "#Policy", Message: "schema definition missing"}
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := invariant.DefaultPolicy()

	rate, err := lookupFloat(unified, "max_violation_rate")
	if err != nil {
		return nil, err
	}
	p.MaxViolationRate = rate

	ticks, err := lookupInt(unified, "tick_budget")
	if err != nil {
		return nil, err
	}
	p.TickBudget = uint32(ticks)

	p.MaxWarmLatency, err = lookupDuration(unified, "max_warm_latency")
	if err != nil {
		return nil, err
	}

	mem, err := lookupInt(unified, "max_memory_bytes")
	if err != nil {
		return nil, err
	}
	p.MaxMemoryBytes = uint64(mem)

	p.MaxCPUPercent, err = lookupFloat(unified, "max_cpu_percent")
	if err != nil {
		return nil, err
	}

	p.MaxTailLatency, err = lookupDuration(unified, "max_tail_latency")
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// LoadPolicyFile reads and compiles a policy file. The file body is the
// policy struct itself (flat fields, no wrapper).
func LoadPolicyFile(path string) (*invariant.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return CompilePolicy(v)
}

func lookupFloat(v cue.Value, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

func lookupInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func lookupDuration(v cue.Value, field string) (time.Duration, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q: %v", s, err),
			Pos:     fv.Pos(),
		}
	}
	if d <= 0 {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("duration must be positive, got %s", d),
			Pos:     fv.Pos(),
		}
	}
	return d, nil
}

// CompileError represents a policy compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
