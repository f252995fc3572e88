package telemetry

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteMetricsStore(db)
	require.NoError(t, err)
	return store
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestSQLiteMetricsStore_OutcomeCountsAccumulate(t *testing.T) {
	// Given: two saves on one day and one on the next
	store := setupTestStore(t)
	require.NoError(t, store.SaveOutcomeCounts("2026-10-18", map[Outcome]int64{OutcomeAnswered: 3, OutcomeCached: 1}))
	require.NoError(t, store.SaveOutcomeCounts("2026-10-18", map[Outcome]int64{OutcomeAnswered: 2}))
	require.NoError(t, store.SaveOutcomeCounts("2026-10-19", map[Outcome]int64{OutcomeFailed: 1}))

	// When: reading one day and the range
	day, err := store.GetOutcomeCounts("2026-10-18", "2026-10-18")
	require.NoError(t, err)
	all, err := store.GetOutcomeCounts("2026-10-01", "2026-10-31")
	require.NoError(t, err)

	// Then: counts are summed
	assert.Equal(t, map[Outcome]int64{OutcomeAnswered: 5, OutcomeCached: 1}, day)
	assert.Equal(t, int64(1), all[OutcomeFailed])
	assert.Equal(t, int64(5), all[OutcomeAnswered])
}

func TestSQLiteMetricsStore_LatencyCounts(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.SaveLatencyCounts("2026-10-19", map[LatencyBucket]int64{BucketLt2s: 4, BucketGe15s: 1}))
	require.NoError(t, store.SaveLatencyCounts("2026-10-19", map[LatencyBucket]int64{BucketLt2s: 1}))

	got, err := store.GetLatencyCounts("2026-10-19", "2026-10-19")

	require.NoError(t, err)
	assert.Equal(t, map[LatencyBucket]int64{BucketLt2s: 5, BucketGe15s: 1}, got)
}

func TestSQLiteMetricsStore_TopTerms(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"revenue": 2, "meeting": 1}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"meeting": 3, "budget": 1}))
	require.NoError(t, store.UpsertTermCounts(nil))

	top, err := store.GetTopTerms(2)

	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "meeting", Count: 4}, {Term: "revenue", Count: 2}}, top)
}

func TestSQLiteMetricsStore_NoContextQuestionsTrimmed(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now()
	for i := range MaxNoContextQuestions + 5 {
		require.NoError(t, store.AddNoContextQuestion(fmt.Sprintf("q%d", i), now))
	}

	got, err := store.GetNoContextQuestions(1000)

	require.NoError(t, err)
	assert.Len(t, got, MaxNoContextQuestions)
	assert.Equal(t, fmt.Sprintf("q%d", MaxNoContextQuestions+4), got[0])
}
