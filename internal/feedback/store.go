// Package feedback collects operator feedback on completed plans and feeds
// it back into decomposition template weights.
package feedback

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// Store provides SQLite-backed storage for feedback records.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore opens (creating if needed) the feedback database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &Store{db: conn, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Migrate creates the schema if it doesn't exist, applying versioned
// migrations in order.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM feedback_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Feedback},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO feedback_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const migrationV1Feedback = `
CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	task_id TEXT,
	goal_category TEXT NOT NULL DEFAULT 'general',
	result TEXT NOT NULL,
	rating INTEGER,
	text TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_plan ON feedback(plan_id);
CREATE INDEX IF NOT EXISTS idx_feedback_category ON feedback(goal_category);
`

// Save persists one feedback record. Metadata is stored as a JSON object so
// run attributes survive alongside the rating.
func (s *Store) Save(rec *models.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode feedback metadata: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO feedback (id, plan_id, task_id, goal_category, result, rating, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PlanID, rec.TaskID, rec.GoalCategory,
		string(rec.Result), rec.Rating, rec.Text, string(metadata),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// ByPlan returns the feedback recorded for a plan, newest first.
func (s *Store) ByPlan(planID string) ([]*models.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, plan_id, task_id, goal_category, result, rating, text, metadata, created_at
		FROM feedback WHERE plan_id = ? ORDER BY created_at DESC`, planID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CategoryCounts returns per-result counts for a goal category.
func (s *Store) CategoryCounts(category string) (positive, negative, neutral int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT result, COUNT(*) FROM feedback
		WHERE goal_category = ? GROUP BY result`, category)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return 0, 0, 0, err
		}
		switch models.FeedbackResult(result) {
		case models.FeedbackPositive:
			positive = n
		case models.FeedbackNegative:
			negative = n
		case models.FeedbackNeutral:
			neutral = n
		}
	}
	return positive, negative, neutral, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]*models.FeedbackRecord, error) {
	var recs []*models.FeedbackRecord
	for rows.Next() {
		var rec models.FeedbackRecord
		var result, createdAt string
		var rating sql.NullInt64
		var taskID, text, metadata sql.NullString
		if err := rows.Scan(&rec.ID, &rec.PlanID, &taskID, &rec.GoalCategory,
			&result, &rating, &text, &metadata, &createdAt); err != nil {
			return nil, err
		}
		rec.TaskID = taskID.String
		rec.Result = models.FeedbackResult(result)
		rec.Rating = int(rating.Int64)
		rec.Text = text.String
		if metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode feedback metadata: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
