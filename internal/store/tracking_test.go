package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracking(t *testing.T) *SQLiteTrackingStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), DatabaseName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteTrackingStore(db)
}

func TestSQLiteTrackingStore_GetMissing(t *testing.T) {
	s := newTestTracking(t)

	_, found, err := s.Get(context.Background(), "a.txt")

	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteTrackingStore_UpsertReplaces(t *testing.T) {
	// Given: a stored record
	s := newTestTracking(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, FileRecord{Filename: "a.txt", ContentHash: "h1", ChunkCount: 2, ProcessedAt: first}))

	// When: upserting the same filename with a new hash
	require.NoError(t, s.Upsert(ctx, FileRecord{Filename: "a.txt", ContentHash: "h2", ChunkCount: 5, ProcessedAt: first.Add(time.Hour)}))

	// Then: one record holds the latest values
	rec, found, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "h2", rec.ContentHash)
	assert.Equal(t, 5, rec.ChunkCount)
	assert.True(t, rec.ProcessedAt.Equal(first.Add(time.Hour)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteTrackingStore_ListSortedAndDelete(t *testing.T) {
	s := newTestTracking(t)
	ctx := context.Background()
	for _, name := range []string{"c.pdf", "a.txt", "b.mp3"} {
		require.NoError(t, s.Upsert(ctx, FileRecord{Filename: name, ContentHash: "h", ChunkCount: 1}))
	}

	require.NoError(t, s.Delete(ctx, "b.mp3"))
	all, err := s.List(ctx)

	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a.txt", all[0].Filename)
	assert.Equal(t, "c.pdf", all[1].Filename)
	assert.False(t, all[0].ProcessedAt.IsZero())
}

func TestSQLiteTrackingStore_UpsertRejectsEmptyFilename(t *testing.T) {
	s := newTestTracking(t)
	assert.Error(t, s.Upsert(context.Background(), FileRecord{ContentHash: "h"}))
}

func TestOpenDB_ReopenKeepsRecords(t *testing.T) {
	// Given: a record written through one connection
	path := filepath.Join(t.TempDir(), "nested", DatabaseName)
	db, err := OpenDB(path)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteTrackingStore(db).Upsert(context.Background(), FileRecord{Filename: "a.txt", ContentHash: "h"}))
	require.NoError(t, db.Close())

	// When: reopening the database
	db, err = OpenDB(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// Then: the record survived
	_, found, err := NewSQLiteTrackingStore(db).Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.True(t, found)
}
