package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// RunSummary is one row of run history.
type RunSummary struct {
	PlanID    string
	Goal      string
	Category  string
	Method    string
	Status    string
	Succeeded int
	Failed    int
	Blocked   int
	Skipped   int
	Duration  time.Duration
	CreatedAt time.Time
}

// SaveRun records a completed plan with its tasks.
func (d *DB) SaveRun(p *models.Plan, outcome *models.PlanOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (plan_id, goal, goal_category, namespace, method, status,
			succeeded, failed, blocked, skipped, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Goal.Text, p.Goal.Category, p.Goal.Namespace, string(p.Method),
		string(outcome.Status), outcome.Succeeded, outcome.Failed,
		outcome.Blocked, outcome.Skipped, outcome.Duration.Milliseconds(),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, t := range p.Tasks {
		_, err = tx.Exec(`
			INSERT INTO run_tasks (id, plan_id, description, operation, resource_type,
				resource_name, namespace, status, status_detail, retry_count, risk,
				output, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.PlanID, t.Description, t.Operation, t.ResourceType,
			t.ResourceName, t.Namespace, string(t.Status), t.StatusDetail,
			t.RetryCount, string(t.Risk), t.Output, formatTime(t.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// SaveDecision records one guardrail decision for audit.
func (d *DB) SaveDecision(planID, taskID string, decision models.Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.conn.Exec(`
		INSERT INTO guardrail_decisions (plan_id, task_id, verdict, risk, reasons, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		planID, taskID, string(decision.Verdict), string(decision.Risk),
		strings.Join(decision.Reasons, "; "), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (d *DB) RecentRuns(limit int) ([]RunSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.conn.Query(`
		SELECT plan_id, goal, goal_category, method, COALESCE(status, ''),
			succeeded, failed, blocked, skipped, duration_ms, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&r.PlanID, &r.Goal, &r.Category, &r.Method, &r.Status,
			&r.Succeeded, &r.Failed, &r.Blocked, &r.Skipped, &durationMS, &createdAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Purge deletes runs and their tasks and decisions older than the retention
// window, returning how many runs were removed.
func (d *DB) Purge(retention time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-retention))

	tx, err := d.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM guardrail_decisions WHERE plan_id IN
			(SELECT plan_id FROM runs WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge decisions: %w", err)
	}
	res, err := tx.Exec("DELETE FROM runs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}
