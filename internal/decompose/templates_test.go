package decompose

import (
	"testing"

	"github.com/kranthiB/kubepilot/pkg/models"
)

func TestInferCategory(t *testing.T) {
	s := NewTemplateStore()
	cases := []struct {
		goal string
		want string
	}{
		{"scale deployment web to 5 replicas", CategoryScale},
		{"restart the checkout deployment", CategoryRestart},
		{"why is the payments pod failing", CategoryDiagnose},
		{"delete the old canary deployment", CategoryDelete},
		{"show me the cluster", CategoryGeneral},
	}
	for _, c := range cases {
		if got := s.InferCategory(c.goal); got != c.want {
			t.Errorf("InferCategory(%q) = %s, want %s", c.goal, got, c.want)
		}
	}
}

func TestInferCategory_WeightBias(t *testing.T) {
	s := NewTemplateStore()
	// "remove" hits delete, "failing" hits diagnose: one keyword each.
	goal := "remove whatever is failing"

	// Penalize delete until diagnose wins the tie-breaking by score.
	for i := 0; i < 5; i++ {
		s.Penalize(CategoryDelete)
	}
	if got := s.InferCategory(goal); got != CategoryDiagnose {
		t.Errorf("expected penalized delete to lose, got %s", got)
	}
}

func TestWeights_Clamped(t *testing.T) {
	s := NewTemplateStore()
	for i := 0; i < 100; i++ {
		s.Reinforce(CategoryScale)
	}
	if w := s.Weight(CategoryScale); w > weightMax {
		t.Errorf("weight not clamped at max: %f", w)
	}
	for i := 0; i < 100; i++ {
		s.Penalize(CategoryScale)
	}
	if w := s.Weight(CategoryScale); w < weightMin {
		t.Errorf("weight not clamped at min: %f", w)
	}
}

func TestAdjust_UnknownCategoryIgnored(t *testing.T) {
	s := NewTemplateStore()
	s.Reinforce("nonexistent")
	if w := s.Weight("nonexistent"); w != 0 {
		t.Errorf("unknown category should have zero weight, got %f", w)
	}
}

func TestExpand_RestartTemplate(t *testing.T) {
	s := NewTemplateStore()
	tasks, err := s.Expand("plan-1", models.Goal{
		Text:      "restart deployment checkout",
		Category:  CategoryRestart,
		Namespace: "shop",
	})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 restart steps, got %d", len(tasks))
	}
	for i, task := range tasks {
		if task.PlanID != "plan-1" {
			t.Errorf("task %d missing plan id", i)
		}
		if task.Namespace != "shop" {
			t.Errorf("task %d missing namespace", i)
		}
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %d should start pending, got %s", i, task.Status)
		}
	}
	if tasks[1].Params["subcommand"] != "restart" {
		t.Errorf("restart step params wrong: %v", tasks[1].Params)
	}
	// Linear chain.
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Error("step 2 not chained to step 1")
	}
	if len(tasks[2].DependsOn) != 1 || tasks[2].DependsOn[0] != tasks[1].ID {
		t.Error("step 3 not chained to step 2")
	}
}

func TestExpand_UnknownCategoryUsesGeneral(t *testing.T) {
	s := NewTemplateStore()
	tasks, err := s.Expand("plan-1", models.Goal{Text: "do something odd", Category: "mystery"})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatal("general template should produce tasks")
	}
}

func TestExpand_PrioritiesDescend(t *testing.T) {
	s := NewTemplateStore()
	tasks, err := s.Expand("plan-1", models.Goal{Text: "scale deployment web to 2 replicas"})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].Priority >= tasks[i-1].Priority {
			t.Errorf("priorities should descend along the chain: %d then %d", tasks[i-1].Priority, tasks[i].Priority)
		}
	}
}

func TestParseReplicas(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"scale web to 5 replicas", "5"},
		{"run 3 replicas of web", "3"},
		{"scale web up", ""},
	}
	for _, c := range cases {
		if got := parseReplicas(c.text); got != c.want {
			t.Errorf("parseReplicas(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"scale deployment web to 5 replicas", "web"},
		{"restart statefulset kafka-0", "kafka-0"},
		{"look around", ""},
	}
	for _, c := range cases {
		if got := parseTarget(c.text); got != c.want {
			t.Errorf("parseTarget(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}
