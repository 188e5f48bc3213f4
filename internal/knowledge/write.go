package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/autarch/internal/canon"
	"github.com/roach88/autarch/internal/loop"
)

// RecordCycle inserts a completed cycle record.
// Uses ON CONFLICT(cycle_number) DO NOTHING for idempotency - recording
// the same cycle twice (retry after a partial failure) is silently
// ignored. Other constraint violations still return errors.
//
// The full record is duplicated into the detail column as canonical
// JSON per RFC 8785, so two stores fed the same cycles hold
// byte-identical blobs.
func (s *Store) RecordCycle(ctx context.Context, cycle *loop.FeedbackCycle) error {
	if cycle == nil {
		return fmt.Errorf("record cycle: nil cycle")
	}

	detail, err := canon.MarshalCanonical(cycleDetail(cycle))
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback_cycles
		(cycle_number, token, triggered_by, outcome, patterns_detected,
		 snapshot_id, failed_step, error, started_at, completed_at, duration_ns, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_number) DO NOTHING
	`,
		int64(cycle.CycleNumber),
		cycle.Token,
		string(cycle.Trigger),
		string(cycle.Outcome),
		cycle.PatternsDetected,
		cycle.SnapshotID,
		string(cycle.FailedStep),
		cycle.Error,
		cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		cycle.CompletedAt.UTC().Format(time.RFC3339Nano),
		int64(cycle.Duration),
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}

	return nil
}

// cycleDetail flattens a cycle into the canonical-JSON-safe form.
// Timestamps become RFC 3339 strings and the duration an integer
// nanosecond count; canonical JSON forbids floats and null.
func cycleDetail(cycle *loop.FeedbackCycle) map[string]any {
	return map[string]any{
		"cycle_number":      cycle.CycleNumber,
		"token":             cycle.Token,
		"triggered_by":      string(cycle.Trigger),
		"outcome":           string(cycle.Outcome),
		"patterns_detected": cycle.PatternsDetected,
		"snapshot_id":       cycle.SnapshotID,
		"failed_step":       string(cycle.FailedStep),
		"error":             cycle.Error,
		"started_at":        cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":      cycle.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ns":       int64(cycle.Duration),
	}
}

// RecordSuccess inserts one action outcome under a fresh UUIDv7 key.
// UUIDv7 keys are time-sortable, so ORDER BY id reads back in
// observation order. Every call is a distinct observation; the same
// action succeeding in two cycles is two rows.
func (s *Store) RecordSuccess(ctx context.Context, situation, actionID string, ok bool) error {
	success := 0
	if ok {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_outcomes
		(id, situation, action_id, success, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		uuid.Must(uuid.NewV7()).String(),
		situation,
		actionID,
		success,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}

	return nil
}
