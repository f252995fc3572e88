package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// MaxNoContextQuestions bounds the persisted no-context question log.
const MaxNoContextQuestions = 100

// SQLiteMetricsStore implements AskMetricsStore on the shared database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates the store and its tables.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitTelemetrySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the ask_* tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	-- Outcome frequency (aggregated daily)
	CREATE TABLE IF NOT EXISTS ask_outcome_stats (
		date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, outcome)
	);

	-- Question terms
	CREATE TABLE IF NOT EXISTS ask_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ask_terms_count ON ask_terms(count DESC);

	-- Questions answered without any retrieved context (bounded FIFO)
	CREATE TABLE IF NOT EXISTS ask_no_context (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Latency histogram
	CREATE TABLE IF NOT EXISTS ask_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// upsertCounts adds each count to its (key, value) row inside one
// transaction.
func (s *SQLiteMetricsStore) upsertCounts(query string, rows func(exec func(args ...any) error) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := rows(func(args ...any) error {
		_, err := stmt.Exec(args...)
		return err
	}); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveOutcomeCounts adds daily outcome counts.
func (s *SQLiteMetricsStore) SaveOutcomeCounts(date string, counts map[Outcome]int64) error {
	return s.upsertCounts(`
		INSERT INTO ask_outcome_stats (date, outcome, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, outcome) DO UPDATE SET count = count + excluded.count
	`, func(exec func(args ...any) error) error {
		for o, n := range counts {
			if err := exec(date, string(o), n); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOutcomeCounts sums outcome counts over [from, to].
func (s *SQLiteMetricsStore) GetOutcomeCounts(from, to string) (map[Outcome]int64, error) {
	counts := make(map[Outcome]int64)
	err := s.sumByKey(`
		SELECT outcome, SUM(count) FROM ask_outcome_stats
		WHERE date >= ? AND date <= ? GROUP BY outcome
	`, from, to, func(k string, n int64) { counts[Outcome(k)] = n })
	return counts, err
}

// SaveLatencyCounts adds daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return s.upsertCounts(`
		INSERT INTO ask_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, func(exec func(args ...any) error) error {
		for b, n := range counts {
			if err := exec(date, string(b), n); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLatencyCounts sums latency counts over [from, to].
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	counts := make(map[LatencyBucket]int64)
	err := s.sumByKey(`
		SELECT bucket, SUM(count) FROM ask_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket
	`, from, to, func(k string, n int64) { counts[LatencyBucket(k)] = n })
	return counts, err
}

func (s *SQLiteMetricsStore) sumByKey(query, from, to string, add func(string, int64)) error {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		add(k, n)
	}
	return rows.Err()
}

// UpsertTermCounts adds term frequencies.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.upsertCounts(`
		INSERT INTO ask_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`, func(exec func(args ...any) error) error {
		for term, n := range terms {
			if err := exec(term, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTopTerms returns the limit most frequent terms.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM ask_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddNoContextQuestion logs a question and trims the log to
// MaxNoContextQuestions.
func (s *SQLiteMetricsStore) AddNoContextQuestion(question string, timestamp time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO ask_no_context (question, timestamp) VALUES (?, ?)
	`, question, timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert no-context question: %w", err)
	}
	if _, err := s.db.Exec(`
		DELETE FROM ask_no_context
		WHERE id NOT IN (SELECT id FROM ask_no_context ORDER BY id DESC LIMIT ?)
	`, MaxNoContextQuestions); err != nil {
		return fmt.Errorf("trim no-context questions: %w", err)
	}
	return nil
}

// GetNoContextQuestions returns the newest questions first.
func (s *SQLiteMetricsStore) GetNoContextQuestions(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT question FROM ask_no_context ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query no-context questions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Close is a no-op; the database is shared.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
