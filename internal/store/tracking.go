package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteTrackingStore implements TrackingStore on the file_records table.
type SQLiteTrackingStore struct {
	db *sql.DB
}

// NewSQLiteTrackingStore wraps an open database (see OpenDB).
func NewSQLiteTrackingStore(db *sql.DB) *SQLiteTrackingStore {
	return &SQLiteTrackingStore{db: db}
}

// Get implements TrackingStore.
func (s *SQLiteTrackingStore) Get(ctx context.Context, filename string) (FileRecord, bool, error) {
	var (
		rec FileRecord
		ts  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT filename, content_hash, chunk_count, processed_at FROM file_records WHERE filename = ?`,
		filename).Scan(&rec.Filename, &rec.ContentHash, &rec.ChunkCount, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("get record %s: %w", filename, err)
	}
	rec.ProcessedAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("parse processed_at for %s: %w", filename, err)
	}
	return rec, true, nil
}

// Upsert implements TrackingStore. The write is a single transactional
// statement keyed by filename.
func (s *SQLiteTrackingStore) Upsert(ctx context.Context, rec FileRecord) error {
	if rec.Filename == "" {
		return fmt.Errorf("upsert record: empty filename")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_records (filename, content_hash, chunk_count, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_count  = excluded.chunk_count,
			processed_at = excluded.processed_at`,
		rec.Filename, rec.ContentHash, rec.ChunkCount, rec.ProcessedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.Filename, err)
	}
	return tx.Commit()
}

// List implements TrackingStore.
func (s *SQLiteTrackingStore) List(ctx context.Context) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, content_hash, chunk_count, processed_at FROM file_records ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileRecord
	for rows.Next() {
		var (
			rec FileRecord
			ts  string
		)
		if err := rows.Scan(&rec.Filename, &rec.ContentHash, &rec.ChunkCount, &ts); err != nil {
			return nil, err
		}
		if rec.ProcessedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse processed_at for %s: %w", rec.Filename, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete implements TrackingStore.
func (s *SQLiteTrackingStore) Delete(ctx context.Context, filename string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", filename, err)
	}
	return nil
}

var _ TrackingStore = (*SQLiteTrackingStore)(nil)
