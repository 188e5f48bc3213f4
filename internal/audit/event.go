package audit

// EventType identifies what a trail entry records. The wire values are
// snake_case and stable: they appear in the durable log and in every
// canonical form that gets hashed and signed, so renaming one breaks
// chain verification of old logs.
type EventType string

const (
	EventCycleStarted       EventType = "cycle_started"
	EventNoAnomalies        EventType = "no_anomalies"
	EventPatternsDetected   EventType = "patterns_detected"
	EventProposalGenerated  EventType = "proposal_generated"
	EventValidationPassed   EventType = "validation_passed"
	EventValidationFailed   EventType = "validation_failed"
	EventPromotionStarted   EventType = "promotion_started"
	EventPromotionSucceeded EventType = "promotion_succeeded"
	EventPromotionFailed    EventType = "promotion_failed"
	EventRollbackInitiated  EventType = "rollback_initiated"
	EventRollbackCompleted  EventType = "rollback_completed"
	EventLoopPaused         EventType = "loop_paused"
	EventLoopResumed        EventType = "loop_resumed"
	EventConfigUpdated      EventType = "config_updated"
)

// AllEventTypes returns every event type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventCycleStarted,
		EventNoAnomalies,
		EventPatternsDetected,
		EventProposalGenerated,
		EventValidationPassed,
		EventValidationFailed,
		EventPromotionStarted,
		EventPromotionSucceeded,
		EventPromotionFailed,
		EventRollbackInitiated,
		EventRollbackCompleted,
		EventLoopPaused,
		EventLoopResumed,
		EventConfigUpdated,
	}
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Trigger records what initiated the cycle an event belongs to.
type Trigger string

const (
	TriggerScheduled    Trigger = "scheduled"
	TriggerManual       Trigger = "manual"
	TriggerSLOViolation Trigger = "slo_violation"
)

// Event is the payload of a trail entry. Zero-valued fields are omitted
// from both the NDJSON line and the canonical form, so two events with
// the same populated fields hash identically regardless of how they were
// constructed.
type Event struct {
	Type       EventType         `json:"type"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
	Trigger    Trigger           `json:"trigger,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// CycleStarted builds the event opening a cycle.
func CycleStarted(trigger Trigger) Event {
	return Event{Type: EventCycleStarted, Trigger: trigger}
}

// NoAnomalies builds the skip marker for a cycle that found nothing.
func NoAnomalies() Event {
	return Event{Type: EventNoAnomalies}
}

// PromotionSucceeded builds the success event for a promoted snapshot.
func PromotionSucceeded(snapshotID string) Event {
	return Event{Type: EventPromotionSucceeded, SnapshotID: snapshotID}
}

// PromotionFailed builds the failure event for a rejected candidate.
func PromotionFailed(snapshotID, reason string) Event {
	return Event{Type: EventPromotionFailed, SnapshotID: snapshotID, Reason: reason}
}

// canonicalMap returns the event as a map suitable for canonical
// marshaling. Only populated fields appear.
func (e Event) canonicalMap() map[string]any {
	m := map[string]any{
		"type": string(e.Type),
	}
	if e.SnapshotID != "" {
		m["snapshot_id"] = e.SnapshotID
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
