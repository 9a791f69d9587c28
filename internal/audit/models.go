package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Stage transitions carry call_id; admin actions carry the actor.
// - Audit is best-effort; do not block the pipeline on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID      string `json:"call_id,omitempty" db:"call_id"`
	RecordingID string `json:"recording_id,omitempty" db:"recording_id"`

	// Stage and FailureReason are set for stage transitions.
	Stage         string `json:"stage,omitempty" db:"stage"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeStageTransition EventType = "stage_transition"
	EventTypeAdminAction     EventType = "admin_action"
)
