package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// KubectlInvoker executes operations by shelling out to kubectl.
type KubectlInvoker struct {
	// Bin is the kubectl binary to invoke. Defaults to "kubectl".
	Bin string
	// Context is the kubeconfig context to use, if any.
	Context string
}

// NewKubectlInvoker creates an invoker for the given kubeconfig context.
func NewKubectlInvoker(kubeContext string) *KubectlInvoker {
	return &KubectlInvoker{Bin: "kubectl", Context: kubeContext}
}

// Invoke builds and runs the kubectl command for the request. The returned
// error is non-nil only for failures of the call itself (binary missing,
// context canceled); a non-zero kubectl exit is reported through Result.
func (k *KubectlInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args, err := k.buildArgs(req)
	if err != nil {
		return Result{}, err
	}

	bin := k.Bin
	if bin == "" {
		bin = "kubectl"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("kubectl %s: %w", req.Operation, ctx.Err())
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			return Result{
				Success: false,
				Output:  stdout.String(),
				Error:   strings.TrimSpace(stderr.String()),
			}, nil
		}
		return Result{}, fmt.Errorf("run kubectl: %w", runErr)
	}

	return Result{Success: true, Output: stdout.String()}, nil
}

// buildArgs maps a request onto a kubectl argument list.
func (k *KubectlInvoker) buildArgs(req Request) ([]string, error) {
	var args []string
	if k.Context != "" {
		args = append(args, "--context", k.Context)
	}

	target := req.ResourceType
	if req.ResourceName != "" {
		target = req.ResourceType + "/" + req.ResourceName
	}

	switch req.Operation {
	case "get", "describe", "delete", "edit":
		args = append(args, req.Operation, req.ResourceType)
		if req.ResourceName != "" {
			args = append(args, req.ResourceName)
		}
	case "list":
		args = append(args, "get", req.ResourceType)
	case "watch":
		args = append(args, "get", req.ResourceType, "--watch")
	case "scale":
		replicas, ok := req.Params["replicas"]
		if !ok {
			return nil, fmt.Errorf("scale requires a replicas parameter")
		}
		args = append(args, "scale", target, "--replicas", replicas)
	case "rollout":
		sub := req.Params["subcommand"]
		if sub == "" {
			sub = "status"
		}
		args = append(args, "rollout", sub, target)
	case "apply":
		manifest, ok := req.Params["manifest"]
		if !ok {
			return nil, fmt.Errorf("apply requires a manifest parameter")
		}
		args = append(args, "apply", "-f", manifest)
	case "patch":
		patch, ok := req.Params["patch"]
		if !ok {
			return nil, fmt.Errorf("patch requires a patch parameter")
		}
		args = append(args, "patch", target, "-p", patch)
	case "exec":
		command, ok := req.Params["command"]
		if !ok {
			return nil, fmt.Errorf("exec requires a command parameter")
		}
		args = append(args, "exec", req.ResourceName, "--")
		args = append(args, strings.Fields(command)...)
	case "cordon", "uncordon", "drain", "taint":
		args = append(args, req.Operation, req.ResourceName)
		if req.Operation == "taint" {
			taint, ok := req.Params["taint"]
			if !ok {
				return nil, fmt.Errorf("taint requires a taint parameter")
			}
			args = append(args, taint)
		}
	case "logs":
		args = append(args, "logs", req.ResourceName)
		if c := req.Params["container"]; c != "" {
			args = append(args, "-c", c)
		}
	default:
		return nil, fmt.Errorf("unsupported operation %q", req.Operation)
	}

	if req.Namespace != "" {
		args = append(args, "-n", req.Namespace)
	}
	return args, nil
}
