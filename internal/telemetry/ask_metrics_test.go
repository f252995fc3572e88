package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{0, BucketLt500ms},
		{499 * time.Millisecond, BucketLt500ms},
		{500 * time.Millisecond, BucketLt2s},
		{3 * time.Second, BucketLt5s},
		{14 * time.Second, BucketLt15s},
		{time.Minute, BucketGe15s},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.d))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"revenue", "report.pdf"}, ExtractTerms("What does the revenue in report.pdf say?"))
	assert.Empty(t, ExtractTerms("  "))
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := range 5 {
		b.Add(i)
	}
	assert.Equal(t, []int{2, 3, 4}, b.Items())
	assert.Equal(t, 3, b.Size())
	assert.Empty(t, NewCircularBuffer[int](0).Items())
}

func TestAskMetrics_RecordAndSnapshot(t *testing.T) {
	// Given: an in-memory collector
	m := NewAskMetrics(nil, AskMetricsConfig{})

	// When: recording a mix of outcomes
	m.Record(AskEvent{Question: "What about revenue?", Outcome: OutcomeAnswered, Targeted: true, Latency: time.Second})
	m.Record(AskEvent{Question: "what about revenue?", Outcome: OutcomeCached, Latency: time.Millisecond})
	m.Record(AskEvent{Question: "Who is Zed?", Outcome: OutcomeNoContext, Latency: 3 * time.Second})

	// Then: the snapshot reflects them
	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalQuestions)
	assert.Equal(t, int64(1), s.TargetedQuestions)
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.Equal(t, map[Outcome]int64{OutcomeAnswered: 1, OutcomeCached: 1, OutcomeNoContext: 1}, s.OutcomeCounts)
	assert.Equal(t, map[LatencyBucket]int64{BucketLt2s: 1, BucketLt500ms: 1, BucketLt5s: 1}, s.LatencyDistribution)
	assert.Equal(t, []string{"Who is Zed?"}, s.NoContextQuestions)
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "revenue", Count: 2}, s.TopTerms[0])
	assert.InDelta(t, 1.0/3.0, s.CacheHitRate(), 1e-9)
	assert.NoError(t, m.Flush())
}

func TestAskMetrics_FlushWritesIncrementsOnce(t *testing.T) {
	// Given: a collector backed by SQLite
	store := setupTestStore(t)
	m := NewAskMetrics(store, AskMetricsConfig{})
	m.Record(AskEvent{Question: "budget totals", Outcome: OutcomeAnswered})
	m.Record(AskEvent{Question: "nothing here", Outcome: OutcomeNoContext})

	// When: flushing twice, then once more after a new event
	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush())
	m.Record(AskEvent{Question: "budget again", Outcome: OutcomeAnswered})
	require.NoError(t, m.Close())

	// Then: nothing is double counted
	today := time.Now().Format("2006-01-02")
	outcomes, err := store.GetOutcomeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int64{OutcomeAnswered: 2, OutcomeNoContext: 1}, outcomes)

	terms, err := store.GetTopTerms(1)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "budget", Count: 2}}, terms)

	questions, err := store.GetNoContextQuestions(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"nothing here"}, questions)
}

func TestAskMetrics_ClosedIgnoresEvents(t *testing.T) {
	m := NewAskMetrics(nil, DefaultAskMetricsConfig())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(AskEvent{Question: "late", Outcome: OutcomeAnswered})

	assert.Zero(t, m.Snapshot().TotalQuestions)
}

func TestAskMetrics_ConcurrentRecord(t *testing.T) {
	m := NewAskMetrics(nil, AskMetricsConfig{})
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(AskEvent{Question: "same question", Outcome: OutcomeAnswered})
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(50), s.TotalQuestions)
	assert.Equal(t, int64(49), s.ExactRepeatCount)
}
