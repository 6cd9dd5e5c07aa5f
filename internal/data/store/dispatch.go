package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// schema holds the gateway's tables. whatsmeow manages its own.
const schema = `
CREATE TABLE IF NOT EXISTS dispatch_log (
    id TEXT PRIMARY KEY,
    transport TEXT NOT NULL,
    recipient TEXT NOT NULL,
    region TEXT,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    media_ref TEXT,
    filename TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    provider_payload TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatch_log_created ON dispatch_log(created_at DESC);
`

// Dispatch outcomes.
const (
	OutcomeSent            = "sent"
	OutcomeFailed          = "failed"
	OutcomeRejected        = "rejected"
	OutcomeInvalid         = "invalid"
	OutcomePairingRequired = "pairing_required"
)

// Dispatch is one logged dispatch attempt.
type Dispatch struct {
	ID              string    `json:"id"`
	Transport       string    `json:"transport"`
	Recipient       string    `json:"recipient"`
	Region          string    `json:"region,omitempty"`
	Kind            string    `json:"kind"`
	Body            string    `json:"body"`
	MediaRef        string    `json:"media_ref,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	Outcome         string    `json:"outcome"`
	Detail          string    `json:"detail,omitempty"`
	ProviderPayload string    `json:"provider_payload,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// DispatchStore persists the dispatch log.
type DispatchStore struct {
	store *Store
}

// NewDispatchStore creates a new DispatchStore.
func NewDispatchStore(s *Store) *DispatchStore {
	return &DispatchStore{store: s}
}

// Record inserts d, assigning an ID and timestamp when unset.
func (s *DispatchStore) Record(ctx context.Context, d *Dispatch) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO dispatch_log (
			id, transport, recipient, region, kind, body, media_ref, filename,
			outcome, detail, provider_payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Transport, d.Recipient, nullString(d.Region), d.Kind, d.Body,
		nullString(d.MediaRef), nullString(d.Filename), d.Outcome,
		nullString(d.Detail), nullString(d.ProviderPayload), d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch %s: %w", d.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *DispatchStore) Recent(ctx context.Context, limit int) ([]Dispatch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, transport, recipient, region, kind, body, media_ref, filename,
		       outcome, detail, provider_payload, created_at
		FROM dispatch_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch log: %w", err)
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		var region, mediaRef, filename, detail, payload sql.NullString
		var created int64
		if err := rows.Scan(&d.ID, &d.Transport, &d.Recipient, &region, &d.Kind, &d.Body,
			&mediaRef, &filename, &d.Outcome, &detail, &payload, &created); err != nil {
			return nil, err
		}
		d.Region = region.String
		d.MediaRef = mediaRef.String
		d.Filename = filename.String
		d.Detail = detail.String
		d.ProviderPayload = payload.String
		d.CreatedAt = time.UnixMilli(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
