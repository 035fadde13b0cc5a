package guardrail

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// enforceableGroups are prohibited-pattern groups whose matches escalate to
// block under block enforcement. Other groups only ever warn.
var enforceableGroups = map[string]bool{
	"security":       true,
	"content_policy": true,
}

// patternGroup is one compiled prohibited-pattern category.
type patternGroup struct {
	name     string
	patterns []*regexp.Regexp
}

// outputFilter is one compiled redaction rule.
type outputFilter struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
}

// Engine evaluates tasks against the configured rule set. All tables are
// compiled at construction and read-only afterwards, so a single engine is
// safely shared across concurrent evaluations.
type Engine struct {
	cfg        Config
	prohibited []patternGroup
	critical   []*regexp.Regexp
	filters    []outputFilter
}

// NewEngine compiles the rule set. Any regex that fails to compile is a
// startup error.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}

	groups := make([]string, 0, len(cfg.ProhibitedPatterns))
	for name := range cfg.ProhibitedPatterns {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		g := patternGroup{name: name}
		for _, p := range cfg.ProhibitedPatterns[name] {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile prohibited pattern %q in group %s: %w", p, name, err)
			}
			g.patterns = append(g.patterns, re)
		}
		e.prohibited = append(e.prohibited, g)
	}

	for _, p := range cfg.CriticalResourcePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile critical resource pattern %q: %w", p, err)
		}
		e.critical = append(e.critical, re)
	}

	cats := make([]string, 0, len(cfg.FilterPatterns))
	for name := range cfg.FilterPatterns {
		cats = append(cats, name)
	}
	sort.Strings(cats)
	for _, name := range cats {
		fp := cfg.FilterPatterns[name]
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile filter pattern %q: %w", name, err)
		}
		e.filters = append(e.filters, outputFilter{category: name, pattern: re, replacement: fp.Replacement})
	}

	return e, nil
}

// EnforcementLevel returns the configured global enforcement level.
func (e *Engine) EnforcementLevel() models.EnforcementLevel {
	return e.cfg.EnforcementLevel
}

// Evaluate runs input and action validation for one execution attempt and
// combines all findings worst-verdict-wins. It is a pure function of the task,
// role, and compiled configuration.
func (e *Engine) Evaluate(task *models.Task, role string) models.Decision {
	d := models.Decision{Verdict: models.VerdictAllow, Risk: models.RiskLow}
	if !e.cfg.Enabled {
		return d
	}

	e.validateInput(task, &d)
	e.validateAction(task, role, &d)

	if steps := e.cfg.MitigationStrategies[task.Operation]; len(steps) > 0 {
		d.Mitigations = append(d.Mitigations, steps...)
	}
	return d
}

// validateInput matches the task text and parameters against the prohibited
// pattern groups.
func (e *Engine) validateInput(task *models.Task, d *models.Decision) {
	text := inputText(task)

	for _, g := range e.prohibited {
		for _, re := range g.patterns {
			if !re.MatchString(text) {
				continue
			}
			d.Reasons = append(d.Reasons, fmt.Sprintf("prohibited content detected: %s", g.name))
			if e.cfg.EnforcementLevel == models.EnforcePassive {
				break
			}
			verdict := models.VerdictWarn
			if enforceableGroups[g.name] && e.cfg.EnforcementLevel == models.EnforceBlock {
				verdict = models.VerdictBlock
			}
			d.Verdict = d.Verdict.Worst(verdict)
			break
		}
	}
}

// validateAction checks role permission, protected and critical resources, and
// the risk profile tables.
func (e *Engine) validateAction(task *models.Task, role string, d *models.Decision) {
	// Permission is absolute: a denial blocks at every enforcement level.
	if !e.permitted(role, task.Operation, task.ResourceType) {
		d.Verdict = models.VerdictBlock
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("role %q does not permit operation %q on resource type %q", role, task.Operation, task.ResourceType))
	}

	d.Risk = d.Risk.Upgrade(e.baselineRisk(task.Operation, task.ResourceType))

	if e.isProtected(task) {
		d.Risk = models.RiskHigh
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("target %s/%s in namespace %q is a protected resource", task.ResourceType, task.ResourceName, task.Namespace))
	}
	if name := task.ResourceName; name != "" && e.isCriticalName(name) {
		d.Risk = models.RiskHigh
		d.Reasons = append(d.Reasons, fmt.Sprintf("resource name %q matches a critical resource pattern", name))
	}

	highRisk := e.requiresAcknowledgment(task.Operation, task.ResourceType)
	if highRisk {
		d.Risk = models.RiskHigh
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("high-risk operation %q on %q requires explicit acknowledgment", task.Operation, task.ResourceType))
	}

	if e.cfg.EnforcementLevel == models.EnforceBlock && d.Risk == models.RiskHigh {
		d.Verdict = models.VerdictBlock
	} else if e.cfg.EnforcementLevel != models.EnforcePassive && (highRisk || d.Risk == models.RiskHigh) {
		d.Verdict = d.Verdict.Worst(models.VerdictWarn)
	}
}

// FilterOutput scans a raw tool result against the filter patterns and
// replaces matching spans. It returns the filtered output and the categories
// that matched. Filtering never changes the task's success or failure.
func (e *Engine) FilterOutput(output string) (string, []string) {
	if !e.cfg.Enabled {
		return output, nil
	}

	var matched []string
	filtered := output
	for _, f := range e.filters {
		next := f.pattern.ReplaceAllString(filtered, f.replacement)
		if next != filtered {
			matched = append(matched, f.category)
			filtered = next
		}
	}
	return filtered, matched
}

func (e *Engine) permitted(role, operation, resourceType string) bool {
	perms, ok := e.cfg.RolePermissions[role]
	if !ok {
		return false
	}
	for _, op := range perms.GlobalOperations {
		if op == operation {
			return true
		}
	}
	for _, op := range perms.Resources[resourceType] {
		if op == operation {
			return true
		}
	}
	return false
}

func (e *Engine) baselineRisk(operation, resourceType string) models.RiskLevel {
	byType, ok := e.cfg.RiskProfiles[operation]
	if !ok {
		return models.RiskLow
	}
	if risk, ok := byType[resourceType]; ok {
		return risk
	}
	// The operation is profiled but this resource type is not listed.
	return models.RiskMedium
}

func (e *Engine) isProtected(task *models.Task) bool {
	for _, ns := range e.cfg.ProtectedResources.Namespaces {
		if task.Namespace == ns {
			return true
		}
	}
	for _, rt := range e.cfg.ProtectedResources.ResourceTypes {
		if task.ResourceType == rt {
			return true
		}
	}
	return false
}

func (e *Engine) isCriticalName(name string) bool {
	for _, re := range e.critical {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (e *Engine) requiresAcknowledgment(operation, resourceType string) bool {
	for _, rt := range e.cfg.HighRiskOperations[operation] {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// inputText concatenates the fields input validation scans.
func inputText(task *models.Task) string {
	parts := []string{task.Description}
	keys := make([]string, 0, len(task.Params))
	for k := range task.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, task.Params[k])
	}
	return strings.Join(parts, " ")
}
