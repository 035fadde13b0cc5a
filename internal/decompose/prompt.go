package decompose

import (
	"fmt"

	"github.com/kranthiB/kubepilot/pkg/models"
)

const systemPrompt = `You are a Kubernetes operations planner. Given an operator goal,
break it into an ordered set of small, verifiable kubectl-level tasks.

Respond with a JSON array only, no prose. Each element:
{
  "ref": "short unique id within this plan, e.g. t1",
  "description": "what the task does, one sentence",
  "operation": "one of: get, describe, list, watch, logs, scale, rollout, delete, apply, patch, exec, cordon, uncordon, drain, taint, edit",
  "resource_type": "deployment, statefulset, pod, service, node, ...",
  "resource_name": "name of the target resource, empty if cluster-wide",
  "namespace": "target namespace, empty to use the goal default",
  "params": {"optional": "operation parameters, e.g. replicas, subcommand"},
  "priority": 1,
  "depends_on": ["refs of tasks that must succeed first"]
}

Rules:
- Read-before-write: inspect current state before any mutation.
- Verify after: mutations are followed by a verification task that depends on them.
- Keep plans small. Do not invent resources the goal does not mention.`

func userPrompt(goal models.Goal) string {
	p := fmt.Sprintf("Goal: %s", goal.Text)
	if goal.Namespace != "" {
		p += fmt.Sprintf("\nDefault namespace: %s", goal.Namespace)
	}
	if goal.Cluster != "" {
		p += fmt.Sprintf("\nCluster: %s", goal.Cluster)
	}
	if goal.Category != "" {
		p += fmt.Sprintf("\nGoal category: %s", goal.Category)
	}
	return p
}
