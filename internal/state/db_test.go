package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kranthiB/kubepilot/pkg/models"
)

func tempDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePlan(id string, createdAt time.Time) *models.Plan {
	return &models.Plan{
		ID: id,
		Goal: models.Goal{
			Text:      "scale web to 3 replicas",
			Category:  "scale_workload",
			Namespace: "shop",
		},
		Method:    models.MethodFallback,
		CreatedAt: createdAt,
		Tasks: []*models.Task{
			{
				ID:           id + "-t1",
				PlanID:       id,
				Description:  "get current state",
				Operation:    "get",
				ResourceType: "deployment",
				ResourceName: "web",
				Namespace:    "shop",
				Status:       models.TaskStatusSucceeded,
				Risk:         models.RiskLow,
				CreatedAt:    createdAt,
			},
		},
	}
}

func sampleOutcome(id string) *models.PlanOutcome {
	return &models.PlanOutcome{
		PlanID:    id,
		Status:    models.PlanStatusSucceeded,
		Succeeded: 1,
		Duration:  2 * time.Second,
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	db := tempDB(t)

	if err := db.SaveRun(samplePlan("plan-1", time.Now()), sampleOutcome("plan-1")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.PlanID != "plan-1" || r.Category != "scale_workload" || r.Succeeded != 1 {
		t.Errorf("run round trip mismatch: %+v", r)
	}
	if r.Status != string(models.PlanStatusSucceeded) {
		t.Errorf("expected succeeded status, got %q", r.Status)
	}
	if r.Duration != 2*time.Second {
		t.Errorf("duration mismatch: %s", r.Duration)
	}
}

func TestSaveRun_DuplicateRejected(t *testing.T) {
	db := tempDB(t)
	p := samplePlan("plan-1", time.Now())
	if err := db.SaveRun(p, sampleOutcome("plan-1")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := db.SaveRun(p, sampleOutcome("plan-1")); err == nil {
		t.Fatal("expected error for duplicate plan id")
	}
}

func TestSaveDecision(t *testing.T) {
	db := tempDB(t)
	err := db.SaveDecision("plan-1", "task-1", models.Decision{
		Verdict: models.VerdictBlock,
		Risk:    models.RiskHigh,
		Reasons: []string{"protected namespace"},
	})
	if err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}
}

func TestPurge_RetentionWindow(t *testing.T) {
	db := tempDB(t)

	old := samplePlan("plan-old", time.Now().Add(-8*24*time.Hour))
	fresh := samplePlan("plan-new", time.Now())
	if err := db.SaveRun(old, sampleOutcome("plan-old")); err != nil {
		t.Fatalf("SaveRun old: %v", err)
	}
	if err := db.SaveRun(fresh, sampleOutcome("plan-new")); err != nil {
		t.Fatalf("SaveRun new: %v", err)
	}

	n, err := db.Purge(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged run, got %d", n)
	}

	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].PlanID != "plan-new" {
		t.Errorf("wrong run survived: %+v", runs)
	}
}

func TestPurge_NothingToDo(t *testing.T) {
	db := tempDB(t)
	if err := db.SaveRun(samplePlan("plan-1", time.Now()), sampleOutcome("plan-1")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	n, err := db.Purge(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 purged, got %d", n)
	}
}
