package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/pkg/utils"
)

// Schema for the primary store. call_id is the conflict key for every write.
const Schema = `
CREATE TABLE IF NOT EXISTS call_records (
	call_id            TEXT PRIMARY KEY,
	recording_id       TEXT NOT NULL DEFAULT '',
	recording_url      TEXT NOT NULL DEFAULT '',
	from_number        TEXT NOT NULL DEFAULT '',
	to_number          TEXT NOT NULL DEFAULT '',
	customer_name      TEXT NOT NULL DEFAULT '',
	customer_email     TEXT NOT NULL DEFAULT '',
	customer_phone     TEXT NOT NULL DEFAULT '',
	duration           INT  NOT NULL DEFAULT 0,
	direction          TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT '',
	agent_id           TEXT NOT NULL DEFAULT '',
	transcript_id      TEXT NOT NULL DEFAULT '',
	transcript_text    TEXT NOT NULL DEFAULT '',
	transcript_status  TEXT NOT NULL DEFAULT '',
	utterances         JSONB NOT NULL DEFAULT '[]',
	stage              TEXT NOT NULL DEFAULT '',
	failed_stage       TEXT NOT NULL DEFAULT '',
	failure_reason     TEXT NOT NULL DEFAULT '',
	needs_review       BOOLEAN NOT NULL DEFAULT FALSE,
	archived           BOOLEAN NOT NULL DEFAULT FALSE,
	extraction         JSONB,
	lead_alert         JSONB NOT NULL DEFAULT '{}',
	customer_follow_up JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_records_created_at_idx ON call_records (created_at DESC);
`

const selectColumns = `call_id, recording_id, recording_url, from_number, to_number,
customer_name, customer_email, customer_phone, duration, direction, status, agent_id,
transcript_id, transcript_text, transcript_status, utterances, stage, failed_stage,
failure_reason, needs_review, archived, extraction, lead_alert, customer_follow_up,
created_at, updated_at`

// PostgresStore is the primary Store. Writes touch only the columns a patch
// sets, so concurrent writers for one call compose field by field.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// EnsureSchema creates the call_records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, s.db, Schema)
}

func (s *PostgresStore) Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error) {
	if callID == "" {
		return calls.Record{}, ErrInvalidInput
	}
	q, args, err := upsertQuery(callID, p)
	if err != nil {
		return calls.Record{}, err
	}
	return scanRecord(s.db.QueryRowContext(ctx, q, args...))
}

// UpsertBatch applies many patches in one transaction. Either all rows are
// written or none are.
func (s *PostgresStore) UpsertBatch(ctx context.Context, patches map[string]calls.Patch) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for callID, p := range patches {
			q, args, err := upsertQuery(callID, p)
			if err != nil {
				return err
			}
			if _, err := scanRecord(tx.QueryRowContext(ctx, q, args...)); err != nil {
				return fmt.Errorf("records: upsert %s: %w", callID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (calls.Record, error) {
	q := `SELECT ` + selectColumns + ` FROM call_records WHERE call_id = $1`
	return scanRecord(s.db.QueryRowContext(ctx, q, callID))
}

func (s *PostgresStore) List(ctx context.Context) ([]calls.Record, error) {
	q := `SELECT ` + selectColumns + ` FROM call_records ORDER BY created_at DESC, call_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// upsertQuery builds INSERT ... ON CONFLICT for the columns set in p.
func upsertQuery(callID string, p calls.Patch) (string, []any, error) {
	cols, vals, err := patchColumns(p)
	if err != nil {
		return "", nil, err
	}

	args := make([]any, 0, len(vals)+1)
	args = append(args, callID)
	args = append(args, vals...)

	insertCols := append([]string{"call_id"}, cols...)
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		if c == "created_at" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sets = append(sets, "updated_at = now()")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO call_records (%s) VALUES (%s)\n", strings.Join(insertCols, ", "), strings.Join(placeholders, ", "))
	fmt.Fprintf(&b, "ON CONFLICT (call_id) DO UPDATE SET %s\n", strings.Join(sets, ", "))
	b.WriteString("RETURNING " + selectColumns)
	return b.String(), args, nil
}

func patchColumns(p calls.Patch) ([]string, []any, error) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	addJSON := func(col string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("records: encode %s: %w", col, err)
		}
		add(col, string(b))
		return nil
	}

	if p.RecordingID != nil {
		add("recording_id", *p.RecordingID)
	}
	if p.RecordingURL != nil {
		add("recording_url", *p.RecordingURL)
	}
	if p.From != nil {
		add("from_number", *p.From)
	}
	if p.To != nil {
		add("to_number", *p.To)
	}
	if p.CustomerName != nil {
		add("customer_name", *p.CustomerName)
	}
	if p.CustomerEmail != nil {
		add("customer_email", *p.CustomerEmail)
	}
	if p.CustomerPhone != nil {
		add("customer_phone", *p.CustomerPhone)
	}
	if p.DurationSeconds != nil {
		add("duration", *p.DurationSeconds)
	}
	if p.Direction != nil {
		add("direction", *p.Direction)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.AgentID != nil {
		add("agent_id", *p.AgentID)
	}
	if p.TranscriptID != nil {
		add("transcript_id", *p.TranscriptID)
	}
	if p.TranscriptText != nil {
		add("transcript_text", *p.TranscriptText)
	}
	if p.TranscriptStatus != nil {
		add("transcript_status", string(*p.TranscriptStatus))
	}
	if p.Utterances != nil {
		if err := addJSON("utterances", p.Utterances); err != nil {
			return nil, nil, err
		}
	}
	if p.Stage != nil {
		add("stage", string(*p.Stage))
	}
	if p.FailedStage != nil {
		add("failed_stage", string(*p.FailedStage))
	}
	if p.FailureReason != nil {
		add("failure_reason", *p.FailureReason)
	}
	if p.NeedsReview != nil {
		add("needs_review", *p.NeedsReview)
	}
	if p.Archived != nil {
		add("archived", *p.Archived)
	}
	if p.Extraction != nil {
		add("extraction", string(p.Extraction))
	}
	if p.LeadAlert != nil {
		if err := addJSON("lead_alert", p.LeadAlert); err != nil {
			return nil, nil, err
		}
	}
	if p.CustomerFollowUp != nil {
		if err := addJSON("customer_follow_up", p.CustomerFollowUp); err != nil {
			return nil, nil, err
		}
	}
	if p.CreatedAt != nil {
		add("created_at", *p.CreatedAt)
	}
	return cols, vals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (calls.Record, error) {
	var (
		r                              calls.Record
		status, tStatus, stage, fStage string
		utterances, extraction         []byte
		leadAlert, customerFollowUp    []byte
	)
	err := row.Scan(
		&r.CallID,
		&r.RecordingID,
		&r.RecordingURL,
		&r.From,
		&r.To,
		&r.CustomerName,
		&r.CustomerEmail,
		&r.CustomerPhone,
		&r.DurationSeconds,
		&r.Direction,
		&status,
		&r.AgentID,
		&r.TranscriptID,
		&r.TranscriptText,
		&tStatus,
		&utterances,
		&stage,
		&fStage,
		&r.FailureReason,
		&r.NeedsReview,
		&r.Archived,
		&extraction,
		&leadAlert,
		&customerFollowUp,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Record{}, ErrNotFound
		}
		return calls.Record{}, err
	}
	r.Status = calls.CallStatus(status)
	r.TranscriptStatus = calls.TranscriptStatus(tStatus)
	r.Stage = calls.Stage(stage)
	r.FailedStage = calls.Stage(fStage)
	if len(extraction) > 0 {
		r.Extraction = json.RawMessage(extraction)
	}
	if err := unmarshalIfSet(utterances, &r.Utterances); err != nil {
		return calls.Record{}, err
	}
	if err := unmarshalIfSet(leadAlert, &r.Notifications.LeadAlert); err != nil {
		return calls.Record{}, err
	}
	if err := unmarshalIfSet(customerFollowUp, &r.Notifications.CustomerFollowUp); err != nil {
		return calls.Record{}, err
	}
	return r, nil
}

func unmarshalIfSet(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("records: decode column: %w", err)
	}
	return nil
}
