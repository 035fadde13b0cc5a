package decompose

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// Goal categories the template store knows how to expand.
const (
	CategoryScale    = "scale_workload"
	CategoryRestart  = "restart_workload"
	CategoryDiagnose = "diagnose_workload"
	CategoryDelete   = "delete_resource"
	CategoryGeneral  = "general"
)

// step is a single task in a template. DependsOn indexes earlier steps.
type step struct {
	Description  string
	Operation    string
	ResourceType string
	Params       map[string]string
	DependsOn    []int
}

// template is an ordered expansion for one goal category.
type template struct {
	Category string
	Keywords []string
	Steps    []step
	Weight   float64
}

// TemplateStore holds the deterministic decomposition templates. Template
// weights shift with feedback: positive outcomes reinforce a category,
// negative ones penalize it, which biases future category inference when
// keywords are ambiguous.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*template
}

// NewTemplateStore returns a store seeded with the built-in templates, all
// at neutral weight.
func NewTemplateStore() *TemplateStore {
	s := &TemplateStore{templates: make(map[string]*template)}
	for _, t := range builtinTemplates() {
		s.templates[t.Category] = t
	}
	return s
}

func builtinTemplates() []*template {
	return []*template{
		{
			Category: CategoryScale,
			Keywords: []string{"scale", "replicas", "scale up", "scale down", "resize"},
			Weight:   1.0,
			Steps: []step{
				{Description: "Get current state of the workload", Operation: "get", ResourceType: "deployment"},
				{Description: "Validate cluster capacity for the requested replica count", Operation: "get", ResourceType: "node", DependsOn: []int{0}},
				{Description: "Apply the scale change", Operation: "scale", ResourceType: "deployment", DependsOn: []int{1}},
				{Description: "Verify rollout completed", Operation: "rollout", ResourceType: "deployment", Params: map[string]string{"subcommand": "status"}, DependsOn: []int{2}},
			},
		},
		{
			Category: CategoryRestart,
			Keywords: []string{"restart", "bounce", "recycle", "rollout restart"},
			Weight:   1.0,
			Steps: []step{
				{Description: "Get current state of the workload", Operation: "get", ResourceType: "deployment"},
				{Description: "Trigger a rolling restart", Operation: "rollout", ResourceType: "deployment", Params: map[string]string{"subcommand": "restart"}, DependsOn: []int{0}},
				{Description: "Verify rollout completed", Operation: "rollout", ResourceType: "deployment", Params: map[string]string{"subcommand": "status"}, DependsOn: []int{1}},
			},
		},
		{
			Category: CategoryDiagnose,
			Keywords: []string{"diagnose", "debug", "investigate", "why", "crashloop", "failing", "not ready", "unhealthy"},
			Weight:   1.0,
			Steps: []step{
				{Description: "Get current state of the workload", Operation: "get", ResourceType: "deployment"},
				{Description: "Describe the workload for events and conditions", Operation: "describe", ResourceType: "deployment", DependsOn: []int{0}},
				{Description: "List pods belonging to the workload", Operation: "list", ResourceType: "pod", DependsOn: []int{0}},
				{Description: "Collect recent logs from the workload pods", Operation: "logs", ResourceType: "pod", DependsOn: []int{2}},
			},
		},
		{
			Category: CategoryDelete,
			Keywords: []string{"delete", "remove", "tear down", "clean up"},
			Weight:   1.0,
			Steps: []step{
				{Description: "Get current state of the resource", Operation: "get", ResourceType: "deployment"},
				{Description: "Delete the resource", Operation: "delete", ResourceType: "deployment", DependsOn: []int{0}},
				{Description: "Confirm the resource is gone", Operation: "get", ResourceType: "deployment", DependsOn: []int{1}},
			},
		},
		{
			Category: CategoryGeneral,
			Keywords: nil,
			Weight:   1.0,
			Steps: []step{
				{Description: "Inspect the current cluster state relevant to the goal", Operation: "get", ResourceType: "deployment"},
				{Description: "Describe the target resource in detail", Operation: "describe", ResourceType: "deployment", DependsOn: []int{0}},
			},
		},
	}
}

const (
	weightStep = 0.1
	weightMin  = 0.1
	weightMax  = 2.0
)

// Reinforce raises the weight of a category's template. Unknown categories
// are ignored.
func (s *TemplateStore) Reinforce(category string) {
	s.adjust(category, weightStep)
}

// Penalize lowers the weight of a category's template.
func (s *TemplateStore) Penalize(category string) {
	s.adjust(category, -weightStep)
}

func (s *TemplateStore) adjust(category string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[category]
	if !ok {
		return
	}
	t.Weight += delta
	if t.Weight < weightMin {
		t.Weight = weightMin
	}
	if t.Weight > weightMax {
		t.Weight = weightMax
	}
}

// Weight reports the current weight of a category, or zero when unknown.
func (s *TemplateStore) Weight(category string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[category]; ok {
		return t.Weight
	}
	return 0
}

// InferCategory picks the template category whose keywords best match the
// goal text. Keyword hits are scaled by template weight so feedback shifts
// ambiguous goals toward categories that worked before. Goals matching
// nothing fall to the general category.
func (s *TemplateStore) InferCategory(goalText string) string {
	text := strings.ToLower(goalText)
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := CategoryGeneral
	bestScore := 0.0
	for _, t := range s.templates {
		hits := 0
		for _, kw := range t.Keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) * t.Weight
		if score > bestScore || (score == bestScore && t.Category < best) {
			best = t.Category
			bestScore = score
		}
	}
	return best
}

var (
	replicasPattern = regexp.MustCompile(`(?i)\bto\s+(\d+)\b|\b(\d+)\s+replicas?\b`)
	targetPattern   = regexp.MustCompile(`(?i)\b(?:deployment|statefulset|daemonset|service|pod|workload)\s+([a-z0-9][a-z0-9.-]*)`)
)

// parseReplicas extracts a replica count from goal text ("scale X to 5",
// "run 3 replicas"). Empty when absent.
func parseReplicas(goalText string) string {
	m := replicasPattern.FindStringSubmatch(goalText)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// parseTarget extracts the resource name that follows a resource-kind word
// in the goal text.
func parseTarget(goalText string) string {
	m := targetPattern.FindStringSubmatch(goalText)
	if m == nil {
		return ""
	}
	return m[1]
}

// Expand materializes the template for the goal's category into tasks with
// wired dependencies. The target name, namespace, and replica count are
// parsed from the goal where the template needs them.
func (s *TemplateStore) Expand(planID string, goal models.Goal) ([]*models.Task, error) {
	category := goal.Category
	if category == "" {
		category = s.InferCategory(goal.Text)
	}

	s.mu.RLock()
	t, ok := s.templates[category]
	if !ok {
		t = s.templates[CategoryGeneral]
	}
	s.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("no template for category %q", category)
	}

	target := parseTarget(goal.Text)
	replicas := parseReplicas(goal.Text)
	now := time.Now()

	tasks := make([]*models.Task, len(t.Steps))
	for i, st := range t.Steps {
		params := make(map[string]string, len(st.Params)+1)
		for k, v := range st.Params {
			params[k] = v
		}
		if st.Operation == "scale" && replicas != "" {
			params["replicas"] = replicas
		}
		name := ""
		if st.ResourceType != "node" {
			name = target
		}
		tasks[i] = &models.Task{
			ID:           uuid.New().String(),
			PlanID:       planID,
			Description:  st.Description,
			Operation:    st.Operation,
			ResourceType: st.ResourceType,
			ResourceName: name,
			Namespace:    goal.Namespace,
			Params:       params,
			Priority:     len(t.Steps) - i,
			Status:       models.TaskStatusPending,
			CreatedAt:    now,
		}
		for _, dep := range st.DependsOn {
			tasks[i].DependsOn = append(tasks[i].DependsOn, tasks[dep].ID)
		}
	}
	return tasks, nil
}
