package models

// Verdict is the outcome of a guardrail evaluation.
type Verdict string

const (
	// VerdictAllow lets the operation proceed without findings.
	VerdictAllow Verdict = "allow"
	// VerdictWarn lets the operation proceed but surfaces findings.
	VerdictWarn Verdict = "warn"
	// VerdictBlock prevents the operation from ever reaching the tool invoker.
	VerdictBlock Verdict = "block"
)

// verdictRank orders verdicts for worst-wins combination.
func (v Verdict) rank() int {
	switch v {
	case VerdictBlock:
		return 2
	case VerdictWarn:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of two verdicts.
func (v Verdict) Worst(other Verdict) Verdict {
	if other.rank() > v.rank() {
		return other
	}
	return v
}

// RiskLevel is the risk tier assigned to an operation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid returns true if the risk level is a known value.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Upgrade returns the higher of two risk levels. Risk is never downgraded.
func (r RiskLevel) Upgrade(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// EnforcementLevel is the global guardrail strictness setting.
type EnforcementLevel string

const (
	// EnforcePassive logs all findings but never blocks.
	EnforcePassive EnforcementLevel = "passive"
	// EnforceWarning blocks only on permission denial; other findings warn.
	EnforceWarning EnforcementLevel = "warning"
	// EnforceBlock additionally blocks on high-risk or security findings.
	EnforceBlock EnforcementLevel = "block"
)

// Valid returns true if the enforcement level is a known value.
func (l EnforcementLevel) Valid() bool {
	switch l {
	case EnforcePassive, EnforceWarning, EnforceBlock:
		return true
	default:
		return false
	}
}

// Decision is produced per task-execution attempt. The scheduler acts on it
// and hands it to the run loop's decision hook for audit.
type Decision struct {
	// Verdict decides whether execution proceeds.
	Verdict Verdict `json:"verdict"`
	// Risk is the final risk classification after all upgrades.
	Risk RiskLevel `json:"risk"`
	// Reasons lists every finding from all checks, worst first not guaranteed.
	Reasons []string `json:"reasons,omitempty"`
	// Mitigations carries advisory mitigation steps for the operation.
	Mitigations []string `json:"mitigations,omitempty"`
}

// Blocked reports whether the decision prevents dispatch.
func (d Decision) Blocked() bool {
	return d.Verdict == VerdictBlock
}
