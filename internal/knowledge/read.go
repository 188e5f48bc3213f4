package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
)

// ActionOutcome is one persisted action observation.
type ActionOutcome struct {
	ID         string    `json:"id"`
	Situation  string    `json:"situation"`
	ActionID   string    `json:"action_id"`
	Success    bool      `json:"success"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Summary aggregates the knowledge base for status reporting.
type Summary struct {
	Cycles   int64            `json:"cycles"`
	Actions  int64            `json:"actions"`
	Outcomes map[string]int64 `json:"outcomes"`
}

// ReadCycle retrieves a single cycle record by number.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCycle(ctx context.Context, cycleNumber uint64) (loop.FeedbackCycle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cycle_number, token, triggered_by, outcome, patterns_detected,
		       snapshot_id, failed_step, error, started_at, completed_at, duration_ns
		FROM feedback_cycles
		WHERE cycle_number = ?
	`, int64(cycleNumber))

	return scanCycleRow(row)
}

// RecentCycles returns the most recent limit cycle records, newest
// first. Non-positive limit returns everything. Ordering is by cycle
// number (the logical clock), never wall time.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]loop.FeedbackCycle, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_number, token, triggered_by, outcome, patterns_detected,
		       snapshot_id, failed_step, error, started_at, completed_at, duration_ns
		FROM feedback_cycles
		ORDER BY cycle_number DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []loop.FeedbackCycle
	for rows.Next() {
		fc, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, fc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	if cycles == nil {
		cycles = []loop.FeedbackCycle{}
	}

	return cycles, nil
}

// CycleDetail returns the canonical JSON blob stored with a cycle.
// Returns sql.ErrNoRows if not found.
func (s *Store) CycleDetail(ctx context.Context, cycleNumber uint64) (string, error) {
	var detail string
	err := s.db.QueryRowContext(ctx, `
		SELECT detail FROM feedback_cycles WHERE cycle_number = ?
	`, int64(cycleNumber)).Scan(&detail)
	if err != nil {
		return "", err
	}
	return detail, nil
}

// SuccessRate returns the fraction of recorded actions for a situation
// that succeeded, along with the sample count. Zero samples yields a
// zero rate; callers decide what no evidence means.
func (s *Store) SuccessRate(ctx context.Context, situation string) (float64, int, error) {
	var total, succeeded int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM action_outcomes
		WHERE situation = ?
	`, situation).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("query success rate: %w", err)
	}

	if total == 0 {
		return 0, 0, nil
	}
	return float64(succeeded) / float64(total), total, nil
}

// ActionsForSituation returns all recorded outcomes for a situation in
// observation order (UUIDv7 keys sort chronologically).
func (s *Store) ActionsForSituation(ctx context.Context, situation string) ([]ActionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, situation, action_id, success, recorded_at
		FROM action_outcomes
		WHERE situation = ?
		ORDER BY id COLLATE BINARY ASC
	`, situation)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var outcomes []ActionOutcome
	for rows.Next() {
		var out ActionOutcome
		var success int
		var recordedAt string
		if err := rows.Scan(&out.ID, &out.Situation, &out.ActionID, &success, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan action outcome: %w", err)
		}
		out.Success = success != 0
		out.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		outcomes = append(outcomes, out)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action outcomes: %w", err)
	}

	if outcomes == nil {
		outcomes = []ActionOutcome{}
	}

	return outcomes, nil
}

// Summarize aggregates cycle and action counts for status reporting.
// Outcome keys are ordered deterministically in the query; map
// iteration order is the caller's problem.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	sum := Summary{Outcomes: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feedback_cycles`).Scan(&sum.Cycles); err != nil {
		return Summary{}, fmt.Errorf("count cycles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_outcomes`).Scan(&sum.Actions); err != nil {
		return Summary{}, fmt.Errorf("count actions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM feedback_cycles
		GROUP BY outcome
		ORDER BY outcome ASC
	`)
	if err != nil {
		return Summary{}, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return Summary{}, fmt.Errorf("scan outcome count: %w", err)
		}
		sum.Outcomes[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate outcome counts: %w", err)
	}

	return sum, nil
}

// scanCycle scans a row into a FeedbackCycle.
func scanCycle(rows *sql.Rows) (loop.FeedbackCycle, error) {
	var fc loop.FeedbackCycle
	var cycleNumber, durationNS int64
	var trigger, outcome, failedStep, startedAt, completedAt string

	if err := rows.Scan(
		&cycleNumber, &fc.Token, &trigger, &outcome, &fc.PatternsDetected,
		&fc.SnapshotID, &failedStep, &fc.Error, &startedAt, &completedAt, &durationNS,
	); err != nil {
		return loop.FeedbackCycle{}, fmt.Errorf("scan cycle: %w", err)
	}

	return buildCycle(fc, cycleNumber, durationNS, trigger, outcome, failedStep, startedAt, completedAt)
}

// scanCycleRow scans a single row into a FeedbackCycle.
func scanCycleRow(row *sql.Row) (loop.FeedbackCycle, error) {
	var fc loop.FeedbackCycle
	var cycleNumber, durationNS int64
	var trigger, outcome, failedStep, startedAt, completedAt string

	if err := row.Scan(
		&cycleNumber, &fc.Token, &trigger, &outcome, &fc.PatternsDetected,
		&fc.SnapshotID, &failedStep, &fc.Error, &startedAt, &completedAt, &durationNS,
	); err != nil {
		return loop.FeedbackCycle{}, err
	}

	return buildCycle(fc, cycleNumber, durationNS, trigger, outcome, failedStep, startedAt, completedAt)
}

func buildCycle(fc loop.FeedbackCycle, cycleNumber, durationNS int64, trigger, outcome, failedStep, startedAt, completedAt string) (loop.FeedbackCycle, error) {
	fc.CycleNumber = uint64(cycleNumber)
	fc.Trigger = audit.Trigger(trigger)
	fc.Outcome = loop.CycleOutcome(outcome)
	fc.FailedStep = loop.CycleStep(failedStep)
	fc.Duration = time.Duration(durationNS)

	var err error
	fc.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return loop.FeedbackCycle{}, fmt.Errorf("parse started_at: %w", err)
	}
	fc.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt)
	if err != nil {
		return loop.FeedbackCycle{}, fmt.Errorf("parse completed_at: %w", err)
	}

	return fc, nil
}
