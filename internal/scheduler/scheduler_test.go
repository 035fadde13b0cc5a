package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kranthiB/kubepilot/internal/guardrail"
	"github.com/kranthiB/kubepilot/internal/logger"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/internal/plan"
	"github.com/kranthiB/kubepilot/internal/tools"
	"github.com/kranthiB/kubepilot/pkg/models"
)

func newPlan(tasks ...*models.Task) *models.Plan {
	return &models.Plan{
		ID:        "plan-1",
		Goal:      models.Goal{Text: "test goal", Category: "general"},
		Tasks:     tasks,
		Method:    models.MethodFallback,
		CreatedAt: time.Now(),
	}
}

func task(id string, op string, priority int, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		PlanID:       "plan-1",
		Description:  "test task " + id,
		Operation:    op,
		ResourceType: "deployments",
		Namespace:    "default",
		Priority:     priority,
		Status:       models.TaskStatusPending,
		DependsOn:    deps,
	}
}

func testScheduler(t *testing.T, invoker tools.Invoker, cfg Config) *Scheduler {
	t.Helper()
	engine, err := guardrail.NewEngine(guardrail.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	m := metrics.New()
	t.Cleanup(func() { m.Close() })
	log := logger.NewWithWriter(io.Discard, slog.LevelError)
	if cfg.Role == "" {
		cfg.Role = "editor"
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	return New(engine, invoker, m, log, cfg)
}

func mustStore(t *testing.T, p *models.Plan, maxRetries int) *plan.Store {
	t.Helper()
	s, err := plan.New(p, maxRetries)
	if err != nil {
		t.Fatalf("plan.New failed: %v", err)
	}
	return s
}

func TestRun_LinearChainInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		mu.Lock()
		order = append(order, req.ResourceName)
		mu.Unlock()
		return tools.Result{Success: true, Output: "ok"}, nil
	})

	a := task("a", "get", 3)
	a.ResourceName = "first"
	b := task("b", "get", 2, "a")
	b.ResourceName = "second"
	c := task("c", "get", 1, "b")
	c.ResourceName = "third"

	s := testScheduler(t, invoker, Config{MaxConcurrency: 3})
	store := mustStore(t, newPlan(a, b, c), 0)

	outcome, err := s.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Status != models.PlanStatusSucceeded {
		t.Errorf("expected succeeded, got %s", outcome.Status)
	}
	if outcome.Succeeded != 3 {
		t.Errorf("expected 3 successes, got %d", outcome.Succeeded)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("dependency order violated: %v", order)
	}
}

func TestRun_BlockedTaskNeverInvoked(t *testing.T) {
	var calls atomic.Int32
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		calls.Add(1)
		return tools.Result{Success: true}, nil
	})

	// Viewer cannot scale: permission denial blocks at every level.
	a := task("a", "scale", 2)
	b := task("b", "get", 1, "a")

	s := testScheduler(t, invoker, Config{MaxConcurrency: 2, Role: "viewer"})
	store := mustStore(t, newPlan(a, b), 0)

	outcome, err := s.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("blocked task reached the invoker %d times", calls.Load())
	}
	if outcome.Status != models.PlanStatusBlocked {
		t.Errorf("expected blocked plan, got %s", outcome.Status)
	}
	if outcome.Blocked != 1 || outcome.Skipped != 1 {
		t.Errorf("expected 1 blocked and 1 skipped, got %+v", outcome)
	}
	if b.Status != models.TaskStatusSkipped {
		t.Errorf("dependent should be skipped, got %s", b.Status)
	}
}

func TestRun_FailTwiceThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		if attempts.Add(1) <= 2 {
			return tools.Result{Success: false, Error: "transient"}, nil
		}
		return tools.Result{Success: true, Output: "ok"}, nil
	})

	a := task("a", "get", 1)
	s := testScheduler(t, invoker, Config{MaxConcurrency: 1})
	store := mustStore(t, newPlan(a), 3)

	outcome, err := s.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Status != models.PlanStatusSucceeded {
		t.Errorf("expected succeeded after retries, got %s", outcome.Status)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if a.RetryCount != 2 {
		t.Errorf("expected RetryCount 2, got %d", a.RetryCount)
	}
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		attempts.Add(1)
		return tools.Result{}, errors.New("connection refused")
	})

	a := task("a", "get", 1)
	s := testScheduler(t, invoker, Config{MaxConcurrency: 1})
	store := mustStore(t, newPlan(a), 2)

	outcome, err := s.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Status != models.PlanStatusFailed {
		t.Errorf("expected failed plan, got %s", outcome.Status)
	}
	// maxRetries=2 means two failed attempts total.
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	if a.RetryCount != 2 {
		t.Errorf("expected RetryCount 2, got %d", a.RetryCount)
	}
}

func TestRun_FailurePropagatesSkips(t *testing.T) {
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		if req.ResourceName == "boom" {
			return tools.Result{Success: false, Error: "exploded"}, nil
		}
		return tools.Result{Success: true}, nil
	})

	a := task("a", "get", 3)
	a.ResourceName = "boom"
	b := task("b", "get", 2, "a")
	c := task("c", "get", 1, "b")

	s := testScheduler(t, invoker, Config{MaxConcurrency: 3})
	store := mustStore(t, newPlan(a, b, c), 0)

	outcome, err := s.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Status != models.PlanStatusFailed {
		t.Errorf("expected failed plan, got %s", outcome.Status)
	}
	if outcome.Failed != 1 || outcome.Skipped != 2 {
		t.Errorf("expected 1 failed and 2 skipped, got %+v", outcome)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return tools.Result{Success: true}, nil
	})

	tasks := []*models.Task{
		task("a", "get", 1), task("b", "get", 1),
		task("c", "get", 1), task("d", "get", 1),
	}
	s := testScheduler(t, invoker, Config{MaxConcurrency: 2})
	store := mustStore(t, newPlan(tasks...), 0)

	if _, err := s.Run(context.Background(), store); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency bound exceeded: peak %d", peak.Load())
	}
}

func TestRun_CancellationSkipsUnstarted(t *testing.T) {
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		time.Sleep(100 * time.Millisecond)
		return tools.Result{Success: true}, nil
	})

	a := task("a", "get", 2)
	b := task("b", "get", 1, "a")

	s := testScheduler(t, invoker, Config{MaxConcurrency: 1})
	store := mustStore(t, newPlan(a, b), 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	outcome, err := s.Run(ctx, store)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The in-flight task finishes; the waiting one is skipped.
	if a.Status != models.TaskStatusSucceeded {
		t.Errorf("running task should finish, got %s", a.Status)
	}
	if b.Status != models.TaskStatusSkipped {
		t.Errorf("unstarted task should be skipped, got %s", b.Status)
	}
	if outcome.Status != models.PlanStatusCanceled {
		t.Errorf("expected canceled plan, got %s", outcome.Status)
	}
}

func TestRun_OutputFiltered(t *testing.T) {
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		return tools.Result{Success: true, Output: "password: hunter2"}, nil
	})

	a := task("a", "get", 1)
	s := testScheduler(t, invoker, Config{MaxConcurrency: 1})
	store := mustStore(t, newPlan(a), 0)

	if _, err := s.Run(context.Background(), store); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if a.Output == "" || a.Output == "password: hunter2" {
		t.Errorf("output should be filtered, got %q", a.Output)
	}
}

func TestBackoff_Growth(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, c := range cases {
		if got := backoff(base, max, c.attempt); got != c.want {
			t.Errorf("backoff(attempt=%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestRun_DecisionHookSeesEveryAttempt(t *testing.T) {
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		return tools.Result{Success: true, Output: "ok"}, nil
	})

	// One readable task and one the viewer role cannot scale.
	p := newPlan(
		task("t1", "get", 2),
		task("t2", "scale", 1),
	)
	p.Tasks[1].Params = map[string]string{"replicas": "3"}
	store := mustStore(t, p, 0)
	sched := testScheduler(t, invoker, Config{MaxConcurrency: 1, Role: "viewer"})

	decisions := map[string]models.Decision{}
	sched.OnDecision(func(taskID string, d models.Decision) {
		decisions[taskID] = d
	})

	if _, err := sched.Run(context.Background(), store); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if decisions["t1"].Blocked() {
		t.Error("get should not be blocked for viewer")
	}
	if !decisions["t2"].Blocked() {
		t.Error("scale should be blocked for viewer")
	}
}

func TestRun_CancelDuringRetryBackoff(t *testing.T) {
	attempts := make(chan struct{}, 4)
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		attempts <- struct{}{}
		return tools.Result{Success: false, Error: "transient"}, nil
	})

	store := mustStore(t, newPlan(task("t1", "get", 1)), 2)
	sched := testScheduler(t, invoker, Config{
		MaxConcurrency: 1,
		RetryBaseDelay: time.Minute,
		RetryMaxDelay:  time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-attempts
		// Give the failure time to reach the loop and arm the retry timer.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	outcome, err := sched.Run(ctx, store)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if outcome.Status != models.PlanStatusFailed {
		t.Errorf("outcome status = %s, want failed", outcome.Status)
	}
	tk := store.Task("t1")
	if tk.Status != models.TaskStatusFailed {
		t.Errorf("task status = %s, want failed", tk.Status)
	}
	if tk.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", tk.RetryCount)
	}
	if tk.CompletedAt == nil {
		t.Error("task should carry a completion time after cancellation")
	}
	if len(attempts) != 0 {
		t.Error("no retry attempt should have run")
	}
}

func TestRun_EngineSourceSwapAppliesToLaterTasks(t *testing.T) {
	permissive, err := guardrail.NewEngine(guardrail.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	lockedCfg := guardrail.DefaultConfig()
	lockedCfg.RolePermissions = map[string]guardrail.RolePermissions{}
	locked, err := guardrail.NewEngine(lockedCfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	var current atomic.Pointer[guardrail.Engine]
	current.Store(permissive)

	var invoked int32
	invoker := tools.Func(func(ctx context.Context, req tools.Request) (tools.Result, error) {
		atomic.AddInt32(&invoked, 1)
		// Simulate a policy reload between the first and second task.
		current.Store(locked)
		return tools.Result{Success: true, Output: "ok"}, nil
	})

	store := mustStore(t, newPlan(
		task("t1", "get", 2),
		task("t2", "get", 1, "t1"),
	), 0)
	sched := testScheduler(t, invoker, Config{MaxConcurrency: 1, Role: "viewer"})
	sched.UseEngineSource(current.Load)

	if _, err := sched.Run(context.Background(), store); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := store.Task("t1").Status; got != models.TaskStatusSucceeded {
		t.Errorf("t1 status = %s, want succeeded", got)
	}
	if got := store.Task("t2").Status; got != models.TaskStatusBlocked {
		t.Errorf("t2 status = %s, want blocked under the swapped policy", got)
	}
	if n := atomic.LoadInt32(&invoked); n != 1 {
		t.Errorf("invocations = %d, want 1", n)
	}
}
