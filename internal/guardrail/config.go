// Package guardrail classifies and gates proposed cluster operations through
// input validation, action validation, and output filtering.
package guardrail

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// ProtectedResources lists namespaces and resource types that elevate risk.
type ProtectedResources struct {
	Namespaces    []string `yaml:"namespaces"`
	ResourceTypes []string `yaml:"resource_types"`
}

// RolePermissions grants operations to a role, globally and per resource type.
type RolePermissions struct {
	// GlobalOperations are allowed on every resource type.
	GlobalOperations []string `yaml:"global_operations"`
	// Resources grants additional operations on specific resource types.
	Resources map[string][]string `yaml:"resources"`
}

// FilterPattern rewrites matching spans of tool output.
type FilterPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Config is the full guardrail rule set. It is loaded once at startup,
// compiled into an Engine, and read-only afterwards.
type Config struct {
	Enabled          bool                    `yaml:"enabled"`
	EnforcementLevel models.EnforcementLevel `yaml:"enforcement_level"`

	// ProhibitedPatterns groups regexes by category. Matches in the security
	// and content_policy groups are treated as enforceable findings.
	ProhibitedPatterns map[string][]string `yaml:"prohibited_patterns"`

	RolePermissions    map[string]RolePermissions `yaml:"role_permissions"`
	ProtectedResources ProtectedResources         `yaml:"protected_resources"`

	// CriticalResourcePatterns match resource names that always mean high risk.
	CriticalResourcePatterns []string `yaml:"critical_resource_patterns"`

	// RiskProfiles assign a baseline risk tier per operation and resource type.
	RiskProfiles map[string]map[string]models.RiskLevel `yaml:"risk_profiles"`

	// HighRiskOperations require explicit acknowledgment; under block
	// enforcement they are denied even when the role permits them.
	HighRiskOperations map[string][]string `yaml:"high_risk_operations"`

	// MitigationStrategies carry advisory text per operation.
	MitigationStrategies map[string][]string `yaml:"mitigation_strategies"`

	// FilterPatterns redact tool output before it is surfaced upward.
	FilterPatterns map[string]FilterPattern `yaml:"filter_patterns"`
}

// guardrailFile is the on-disk layout, with the rule set under a top-level key.
type guardrailFile struct {
	Guardrails Config `yaml:"guardrails"`
}

// DefaultConfig returns the built-in rule set used when no file is provided.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		EnforcementLevel: models.EnforceWarning,
		ProhibitedPatterns: map[string][]string{
			"security": {
				`(?i)(?:sudo|su)\s+`,
				`(?:rm|chmod|chown|dd|mkfs)\s+.*-[rf]`,
				`(?:;|\|\||&&)\s*(?:bash|sh|zsh|csh|curl|wget)`,
				"`[^`]*`",
				`(?i)(?:eval|exec)\s*\(`,
			},
			"content_policy": {
				`(?i)\b(?:fuck|shit|asshole|bitch)\b`,
			},
			"credential_disclosure": {
				`(?i)(?:kubeconfig|\.kube/config)`,
				`(?i)(?:--token\s+\S+|bearer\s+token)`,
				`(?i)secret(?:\s+create|\s+edit|\s+expose)`,
			},
		},
		RolePermissions: map[string]RolePermissions{
			"viewer": {
				GlobalOperations: []string{"get", "list", "describe", "watch"},
			},
			"editor": {
				GlobalOperations: []string{"get", "list", "describe", "watch", "create", "update", "patch", "apply", "scale", "rollout"},
			},
			"admin": {
				GlobalOperations: []string{"get", "list", "describe", "watch", "create", "update", "patch", "apply", "scale", "rollout", "delete", "exec"},
				Resources: map[string][]string{
					"nodes": {"cordon", "uncordon", "drain", "taint"},
				},
			},
		},
		ProtectedResources: ProtectedResources{
			Namespaces:    []string{"kube-system", "kube-public", "kube-node-lease", "monitoring"},
			ResourceTypes: []string{"nodes", "serviceaccounts", "secrets", "persistentvolumes"},
		},
		CriticalResourcePatterns: []string{
			`(?i)^kube-`,
			`(?i).*-system$`,
			`(?i)^ingress-`,
			`(?i)^cert-`,
			`(?i)^prometheus-`,
		},
		RiskProfiles: map[string]map[string]models.RiskLevel{
			"delete": {
				"pods":              models.RiskMedium,
				"deployments":       models.RiskMedium,
				"nodes":             models.RiskHigh,
				"namespaces":        models.RiskHigh,
				"persistentvolumes": models.RiskHigh,
			},
			"exec":  {"pods": models.RiskMedium},
			"drain": {"nodes": models.RiskHigh},
			"taint": {"nodes": models.RiskHigh},
			"scale": {"deployments": models.RiskLow, "statefulsets": models.RiskMedium},
		},
		HighRiskOperations: map[string][]string{
			"delete": {"nodes", "namespaces", "persistentvolumes", "clusterroles"},
			"patch":  {"nodes", "customresourcedefinitions", "apiservices"},
			"exec":   {"pods"},
			"drain":  {"nodes"},
			"cordon": {"nodes"},
			"taint":  {"nodes"},
		},
		MitigationStrategies: map[string][]string{
			"delete": {"verify a recent backup exists", "confirm the resource is not referenced by other workloads"},
			"drain":  {"ensure pod disruption budgets allow eviction", "cordon the node first"},
			"scale":  {"check current resource headroom before scaling"},
			"exec":   {"prefer logs or describe over interactive exec"},
		},
		FilterPatterns: map[string]FilterPattern{
			"harmful_instructions": {
				Pattern:     `(?i)(?:how\s+to|steps\s+for|instructions\s+for)\s+(?:hack|exploit|attack|compromise)`,
				Replacement: "[harmful content removed]",
			},
			"offensive_content": {
				Pattern:     `(?i)(?:racial\s+slurs?|offensive\s+language|derogatory\s+terms?)`,
				Replacement: "[inappropriate content removed]",
			},
			"credentials": {
				Pattern:     `(?i)(?:password|secret|token|apikey)(?:\s+is|:)\s*\S+`,
				Replacement: "[credentials removed]",
			},
		},
	}
}

// LoadConfig reads a rule set from a YAML file and applies environment
// overrides. A missing path returns the default rule set.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read guardrail config: %w", err)
		}
		var file guardrailFile
		// Pre-seed so a file that omits the key keeps the default.
		file.Guardrails.Enabled = cfg.Enabled
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse guardrail config: %w", err)
		}
		cfg = mergeConfig(cfg, file.Guardrails)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeConfig overlays file values on top of the defaults. Table-valued fields
// replace the default table only when the file provides one.
func mergeConfig(base, file Config) Config {
	out := base
	out.Enabled = file.Enabled
	if file.EnforcementLevel != "" {
		out.EnforcementLevel = file.EnforcementLevel
	}
	if len(file.ProhibitedPatterns) > 0 {
		out.ProhibitedPatterns = file.ProhibitedPatterns
	}
	if len(file.RolePermissions) > 0 {
		out.RolePermissions = file.RolePermissions
	}
	if len(file.ProtectedResources.Namespaces) > 0 || len(file.ProtectedResources.ResourceTypes) > 0 {
		out.ProtectedResources = file.ProtectedResources
	}
	if len(file.CriticalResourcePatterns) > 0 {
		out.CriticalResourcePatterns = file.CriticalResourcePatterns
	}
	if len(file.RiskProfiles) > 0 {
		out.RiskProfiles = file.RiskProfiles
	}
	if len(file.HighRiskOperations) > 0 {
		out.HighRiskOperations = file.HighRiskOperations
	}
	if len(file.MitigationStrategies) > 0 {
		out.MitigationStrategies = file.MitigationStrategies
	}
	if len(file.FilterPatterns) > 0 {
		out.FilterPatterns = file.FilterPatterns
	}
	return out
}

// applyEnvOverrides applies GUARDRAIL_ENABLED and GUARDRAIL_ENFORCEMENT_LEVEL.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUARDRAIL_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GUARDRAIL_ENFORCEMENT_LEVEL"); v != "" {
		level := models.EnforcementLevel(strings.ToLower(v))
		if level.Valid() {
			cfg.EnforcementLevel = level
		}
	}
}

// Validate rejects malformed tables. Invalid entries fail startup, not
// individual requests.
func (c Config) Validate() error {
	if !c.EnforcementLevel.Valid() {
		return fmt.Errorf("invalid enforcement level %q", c.EnforcementLevel)
	}
	for op, byType := range c.RiskProfiles {
		for rt, risk := range byType {
			if !risk.Valid() {
				return fmt.Errorf("invalid risk level %q for %s/%s", risk, op, rt)
			}
		}
	}
	for role, perms := range c.RolePermissions {
		if len(perms.GlobalOperations) == 0 && len(perms.Resources) == 0 {
			return fmt.Errorf("role %q grants no operations", role)
		}
	}
	return nil
}
