package audit

import (
	"context"
	"database/sql"

	"call-lead-pipeline/pkg/utils"
)

const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	actor_user_id  TEXT NOT NULL DEFAULT '',
	actor_role     TEXT NOT NULL DEFAULT '',
	ip_address     TEXT NOT NULL DEFAULT '',
	call_id        TEXT NOT NULL DEFAULT '',
	recording_id   TEXT NOT NULL DEFAULT '',
	stage          TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_call_idx ON audit_events (call_id, created_at);
`

// PostgresRepo is an append-only Repository backed by audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, Schema)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id,
	recording_id, stage, failure_reason, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID,
		e.RecordingID, e.Stage, e.FailureReason, e.Message, e.Metadata, e.CreatedAt)
	return err
}

func (r *PostgresRepo) ForCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, type, actor_user_id, actor_role, ip_address, call_id, recording_id,
	stage, failure_reason, message, metadata, created_at
FROM audit_events WHERE call_id = $1 ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.CallID,
			&e.RecordingID, &e.Stage, &e.FailureReason, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
