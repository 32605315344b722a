package graphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// PromptCompiler produces an ApiPrompt from a graph.  The in-process walker
// and the external graph-library subprocess are behaviorally substitutable:
// same inputs, same prompt shape, same pruning rule.
type PromptCompiler interface {
	Compile(ctx context.Context, g *Graph, reg *NodeRegistry) (ApiPrompt, []CompileError, error)
}

// GraphCompiler is the in-process backend.
type GraphCompiler struct{}

func (GraphCompiler) Compile(ctx context.Context, g *Graph, reg *NodeRegistry) (ApiPrompt, []CompileError, error) {
	prompt, compileErrors := CompilePrompt(g, reg)
	return prompt, compileErrors, nil
}

// SubprocessCompiler invokes an external graph library as a child process.
// The contract is two JSON file paths in (node registry document, workflow
// graph) and one JSON document out (the ApiPrompt) on stdout.
type SubprocessCompiler struct {
	Command string
	Args    []string
}

func (c *SubprocessCompiler) Compile(ctx context.Context, g *Graph, reg *NodeRegistry) (ApiPrompt, []CompileError, error) {
	dir, err := os.MkdirTemp("", "gridcompile")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	registryPath := filepath.Join(dir, "object_info.json")
	if err := os.WriteFile(registryPath, reg.Raw, 0o600); err != nil {
		return nil, nil, err
	}

	graphData, err := json.Marshal(g)
	if err != nil {
		return nil, nil, err
	}
	workflowPath := filepath.Join(dir, "workflow.json")
	if err := os.WriteFile(workflowPath, graphData, 0o600); err != nil {
		return nil, nil, err
	}

	args := append(append([]string{}, c.Args...), registryPath, workflowPath)
	cmd := exec.CommandContext(ctx, c.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("compiler subprocess: %w: %s", err, stderr.String())
	}

	prompt := make(ApiPrompt)
	if err := json.Unmarshal(stdout.Bytes(), &prompt); err != nil {
		return nil, nil, fmt.Errorf("compiler subprocess output: %w", err)
	}

	// the same pruning rule applies regardless of backend
	prompt.pruneDanglingInputs()
	return prompt, nil, nil
}
