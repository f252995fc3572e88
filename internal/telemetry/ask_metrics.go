// Package telemetry records question-answering activity locally. Nothing is
// reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is how a question was answered.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"     // served from the semantic cache
	OutcomeAnswered  Outcome = "answered"   // generated from retrieved context
	OutcomeNoContext Outcome = "no_context" // generated with zero candidates
	OutcomeFailed    Outcome = "failed"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket. Answers include generation,
// so the buckets are wide.
type LatencyBucket string

const (
	BucketLt500ms LatencyBucket = "lt500ms"
	BucketLt2s    LatencyBucket = "lt2s"
	BucketLt5s    LatencyBucket = "lt5s"
	BucketLt15s   LatencyBucket = "lt15s"
	BucketGe15s   LatencyBucket = "ge15s"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 500*time.Millisecond:
		return BucketLt500ms
	case d < 2*time.Second:
		return BucketLt2s
	case d < 5*time.Second:
		return BucketLt5s
	case d < 15*time.Second:
		return BucketLt15s
	default:
		return BucketGe15s
	}
}

// =============================================================================
// Ask Event
// =============================================================================

// AskEvent is one answered (or failed) question.
type AskEvent struct {
	Question   string
	Outcome    Outcome
	Files      int  // files in scope
	Targeted   bool // scope narrowed by a mention or file type
	Candidates int  // retrieved before reranking
	Latency    time.Duration
	Timestamp  time.Time
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Term Extraction
// =============================================================================

var termStopWords = map[string]bool{
	"the": true, "and": true, "what": true, "does": true, "did": true,
	"was": true, "were": true, "are": true, "about": true, "this": true,
	"that": true, "with": true, "for": true, "how": true, "who": true,
	"which": true, "when": true, "where": true, "why": true, "say": true,
}

// ExtractTerms lowercases question, strips punctuation and keeps words of
// three or more letters that are not stop words.
func ExtractTerms(question string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) >= 3 && !termStopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// AskMetricsSnapshot is an immutable view of the metrics.
type AskMetricsSnapshot struct {
	OutcomeCounts       map[Outcome]int64       `json:"outcome_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	NoContextQuestions  []string                `json:"no_context_questions"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQuestions      int64                   `json:"total_questions"`
	TargetedQuestions   int64                   `json:"targeted_questions"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate is the share of questions served from the cache.
func (s *AskMetricsSnapshot) CacheHitRate() float64 {
	if s.TotalQuestions == 0 {
		return 0
	}
	return float64(s.OutcomeCounts[OutcomeCached]) / float64(s.TotalQuestions)
}

// =============================================================================
// Store interface
// =============================================================================

// AskMetricsStore persists aggregated metrics. Counts passed to Save and
// Upsert methods are increments.
type AskMetricsStore interface {
	SaveOutcomeCounts(date string, counts map[Outcome]int64) error
	GetOutcomeCounts(from, to string) (map[Outcome]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddNoContextQuestion(question string, timestamp time.Time) error
	GetNoContextQuestions(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// =============================================================================
// Collector
// =============================================================================

// AskMetricsConfig configures AskMetrics.
type AskMetricsConfig struct {
	TopTermsCapacity  int           // default 100
	NoContextCapacity int           // default 100
	RecentQuestions   int           // for repeat detection, default 500
	FlushInterval     time.Duration // 0 disables auto-flush
}

// DefaultAskMetricsConfig returns the defaults with a 60s flush.
func DefaultAskMetricsConfig() AskMetricsConfig {
	return AskMetricsConfig{
		TopTermsCapacity:  100,
		NoContextCapacity: 100,
		RecentQuestions:   500,
		FlushInterval:     60 * time.Second,
	}
}

// AskMetrics aggregates AskEvents in memory and flushes increments to a
// store. Safe for concurrent use.
type AskMetrics struct {
	mu sync.Mutex

	outcomes  map[Outcome]int64
	latencies map[LatencyBucket]int64
	topTerms  *lru.Cache[string, int64]
	noContext *CircularBuffer[string]
	recent    *lru.Cache[string, struct{}]
	total     int64
	targeted  int64
	repeats   int64
	startTime time.Time

	// increments not yet flushed
	pendingOutcomes  map[Outcome]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingNoContext []AskEvent

	store       AskMetricsStore
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewAskMetrics creates a collector. A nil store keeps metrics in memory.
func NewAskMetrics(store AskMetricsStore, cfg AskMetricsConfig) *AskMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.NoContextCapacity <= 0 {
		cfg.NoContextCapacity = 100
	}
	if cfg.RecentQuestions <= 0 {
		cfg.RecentQuestions = 500
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQuestions)

	m := &AskMetrics{
		outcomes:         make(map[Outcome]int64),
		latencies:        make(map[LatencyBucket]int64),
		topTerms:         topTerms,
		noContext:        NewCircularBuffer[string](cfg.NoContextCapacity),
		recent:           recent,
		startTime:        time.Now(),
		pendingOutcomes:  make(map[Outcome]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingTerms:     make(map[string]int64),
		store:            store,
		stopCh:           make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *AskMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one event.
func (m *AskMetrics) Record(e AskEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.outcomes[e.Outcome]++
	m.pendingOutcomes[e.Outcome]++
	if e.Targeted {
		m.targeted++
	}

	bucket := LatencyToBucket(e.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	for _, term := range ExtractTerms(e.Question) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if e.Outcome == OutcomeNoContext {
		m.noContext.Add(e.Question)
		m.pendingNoContext = append(m.pendingNoContext, e)
	}

	key := hashQuestion(e.Question)
	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

func hashQuestion(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the metrics since start.
func (m *AskMetrics) Snapshot() *AskMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[Outcome]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var terms []TermCount
	for _, k := range m.topTerms.Keys() {
		if c, ok := m.topTerms.Peek(k); ok {
			terms = append(terms, TermCount{Term: k, Count: c})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &AskMetricsSnapshot{
		OutcomeCounts:       outcomes,
		TopTerms:            terms,
		NoContextQuestions:  m.noContext.Items(),
		LatencyDistribution: latencies,
		TotalQuestions:      m.total,
		TargetedQuestions:   m.targeted,
		ExactRepeatCount:    m.repeats,
		Since:               m.startTime,
	}
}

// Flush writes increments recorded since the last flush. Without a store
// it is a no-op.
func (m *AskMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	outcomes, latencies, terms, noContext := m.pendingOutcomes, m.pendingLatencies, m.pendingTerms, m.pendingNoContext
	m.pendingOutcomes = make(map[Outcome]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingNoContext = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if len(outcomes) > 0 {
		if err := m.store.SaveOutcomeCounts(today, outcomes); err != nil {
			return err
		}
	}
	if len(latencies) > 0 {
		if err := m.store.SaveLatencyCounts(today, latencies); err != nil {
			return err
		}
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	for _, e := range noContext {
		if err := m.store.AddNoContextQuestion(e.Question, e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// Close stops auto-flush and flushes once more.
func (m *AskMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
