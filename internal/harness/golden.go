package harness

import (
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/canon"
)

// TrailSnapshot captures the audit trail of a scenario execution for
// golden comparison. Serialization is canonical JSON, so the snapshot
// is byte-stable across runs.
//
// Hashes, signatures, and raw snapshot ids are redacted: the hash chain
// and signing are pinned by their own verification, and content-hash
// ids would make golden files unreadable and unwritable by hand.
// Snapshot ids are rendered as "candidate:<target>" through the run's
// candidate map instead.
type TrailSnapshot struct {
	ScenarioName string
	Trail        []audit.Entry

	// Candidates maps proposal targets to snapshot ids, used to redact
	// ids back to readable target references.
	Candidates map[string]string
}

// toCanonicalMap renders the snapshot for canonical marshaling.
func (s *TrailSnapshot) toCanonicalMap() map[string]any {
	targets := make(map[string]string, len(s.Candidates))
	for target, id := range s.Candidates {
		targets[id] = target
	}

	entries := make([]any, len(s.Trail))
	for i, entry := range s.Trail {
		entries[i] = map[string]any{
			"timestamp":    entry.Timestamp.UTC().Format(time.RFC3339Nano),
			"cycle_number": entry.CycleNumber,
			"event":        eventMap(entry.Event, targets),
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trail":         entries,
	}
}

// eventMap renders one event with only its populated fields, matching
// the event's own canonical form except for snapshot id redaction.
func eventMap(e audit.Event, targets map[string]string) map[string]any {
	m := map[string]any{"type": string(e.Type)}
	if e.SnapshotID != "" {
		m["snapshot_id"] = redactSnapshotID(e.SnapshotID, targets)
	}
	if e.Trigger != "" {
		m["trigger"] = string(e.Trigger)
	}
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	if len(e.Details) > 0 {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		m["details"] = details
	}
	return m
}

// redactSnapshotID maps a candidate id back to its proposal target.
// Ids from outside the scenario's proposals are kept raw.
func redactSnapshotID(id string, targets map[string]string) string {
	if target, ok := targets[id]; ok {
		return fmt.Sprintf("candidate:%s", target)
	}
	return id
}

// RunWithGolden executes a scenario and compares the redacted audit
// trail against a golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files are the source of truth for the exact audit trail a
// scenario must produce. Returns an error if scenario execution fails;
// trail mismatches fail the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trail against a golden file.
// Useful when the caller has already run the scenario and wants to
// check assertions and the golden trail from the same execution.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TrailSnapshot{
		ScenarioName: scenarioName,
		Trail:        result.Trail,
		Candidates:   result.Candidates,
	}

	trailJSON, err := canon.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, trailJSON)

	return nil
}
