package modelcache

import (
	"context"

	"github.com/jackc/pgx/v5"

	"ailoy/internal/aerr"
)

// PGLedger is a CacheLedger backed by Postgres, grounded on the teacher's
// own Connect/CreateModelsTable pattern (rag.go, initialize.go): a single
// long-lived *pgx.Conn plus a CREATE TABLE IF NOT EXISTS run once at
// construction.
type PGLedger struct {
	conn *pgx.Conn
}

// NewPGLedger connects to dsn and ensures the ledger table exists.
func NewPGLedger(ctx context.Context, dsn string) (*PGLedger, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "connect to model cache ledger database")
	}
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS model_cache_downloads (
			id SERIAL PRIMARY KEY,
			model_id TEXT NOT NULL,
			quantization TEXT NOT NULL,
			device TEXT NOT NULL,
			downloaded_at TIMESTAMPTZ NOT NULL,
			total_bytes BIGINT NOT NULL
		)
	`); err != nil {
		_ = conn.Close(ctx)
		return nil, aerr.Wrap(aerr.IO, err, "create model_cache_downloads table")
	}
	return &PGLedger{conn: conn}, nil
}

// Record inserts one completed download.
func (l *PGLedger) Record(ctx context.Context, entry LedgerEntry) error {
	_, err := l.conn.Exec(ctx, `
		INSERT INTO model_cache_downloads (model_id, quantization, device, downloaded_at, total_bytes)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ModelID, entry.Quantization, entry.Device, entry.DownloadedAt, entry.TotalBytes)
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "record model cache download for %q", entry.ModelID)
	}
	return nil
}

// Close releases the underlying connection.
func (l *PGLedger) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
