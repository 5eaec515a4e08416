package transcripts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"call-monitor/pkg/utils"
)

// Repository stores finalized transcript records.
//
// Insert must be idempotent on DedupKey: a second insert of the same key
// reports inserted=false and leaves the first row untouched.
type Repository interface {
	Insert(ctx context.Context, rec Record) (inserted bool, err error)
	ListByCall(ctx context.Context, callID string, limit int) ([]Record, error)
}

// NOTE: the transcripts table is created by internal/database migrations.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) (bool, error) {
	const q = `
INSERT INTO transcripts (
	id, dedup_key, call_id, ts_ms, speaker, lang, confidence,
	offset_bytes, text, status, processing_time_ms, extra, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (dedup_key) DO NOTHING
`
	extra, err := marshalExtra(rec.Event.Extra)
	if err != nil {
		return false, err
	}
	e := rec.Event
	res, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.DedupKey,
		e.CallID,
		e.TsMs,
		e.Speaker,
		e.Lang,
		e.Confidence,
		e.OffsetBytes,
		e.Text,
		string(e.Status),
		e.ProcessingTimeMs,
		string(extra),
		rec.CreatedAt,
	)
	if utils.IsUniqueViolation(err) {
		// Only dedup_key is covered by ON CONFLICT; any other unique hit means the row is already there.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string, limit int) ([]Record, error) {
	const q = `
SELECT id, dedup_key, call_id, ts_ms, speaker, lang, confidence,
	offset_bytes, text, status, processing_time_ms, extra, created_at
FROM transcripts
WHERE call_id = $1
ORDER BY ts_ms ASC, created_at ASC
LIMIT $2
`
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, q, callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec   Record
			extra []byte
		)
		e := &rec.Event
		if err := rows.Scan(
			&rec.ID,
			&rec.DedupKey,
			&e.CallID,
			&e.TsMs,
			&e.Speaker,
			&e.Lang,
			&e.Confidence,
			&e.OffsetBytes,
			&e.Text,
			&e.Status,
			&e.ProcessingTimeMs,
			&extra,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &e.Extra); err != nil {
				return nil, fmt.Errorf("decode extra for %s: %w", rec.ID, err)
			}
			if len(e.Extra) == 0 {
				e.Extra = nil
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalExtra(extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	return b, nil
}
