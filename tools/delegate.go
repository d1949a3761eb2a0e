// Sub-delegation tool.
//
// Information Hiding:
// - How a sub-delegation actually runs is behind the injected Runner,
//   which breaks the dependency cycle between tools and the executor.
// - Depth accounting is internal.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Runner executes a nested delegation synchronously and returns its summary.
// The orchestration layer supplies one backed by the real executor.
type Runner func(ctx context.Context, task string, taskContext []string, expectedOutcome string) (string, error)

// maxDelegationDepth bounds nesting so runaway recursive delegation cannot
// happen even if every run's own budget allows a sub-delegation.
const maxDelegationDepth = 3

type depthKey struct{}

// WithDelegationDepth returns a context carrying the given nesting depth.
func WithDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DelegationDepth returns the nesting depth carried by the context, 0 if none.
func DelegationDepth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// DelegateTool hands a focused sub-task to a nested executor run and waits
// for its summary.
type DelegateTool struct {
	BaseTool
	runner Runner
}

// NewDelegateTool creates the delegation tool over the given runner.
func NewDelegateTool(runner Runner) *DelegateTool {
	return &DelegateTool{runner: runner}
}

// Metadata returns the tool metadata.
func (t *DelegateTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameDelegate,
		Description: "Delegate a focused sub-task to a worker agent and wait for its summary. Include relevant entity IDs in the context.",
		Parameters: []ToolParameter{
			{Name: "task", ParamType: "string", Description: "The sub-task to perform, stated completely", Required: true},
			{Name: "context", ParamType: "array", Description: "Entity IDs and free-form notes the worker needs", Required: false},
			{Name: "expected_outcome", ParamType: "string", Description: "What a successful result looks like", Required: false},
		},
	}
}

type delegateArgs struct {
	Task            string   `json:"task"`
	Context         []string `json:"context"`
	ExpectedOutcome string   `json:"expected_outcome"`
}

// Validate validates the arguments.
func (t *DelegateTool) Validate(args json.RawMessage) error {
	var a delegateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Task == "" {
		return fmt.Errorf("task cannot be empty")
	}
	return nil
}

// Execute runs the sub-delegation and returns its summary.
func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a delegateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if a.Task == "" {
		return FailureResultf("task cannot be empty"), nil
	}

	depth := DelegationDepth(ctx)
	if depth >= maxDelegationDepth {
		return FailureResultf("delegation depth limit (%d) reached; perform the work directly instead", maxDelegationDepth), nil
	}

	summary, err := t.runner(WithDelegationDepth(ctx, depth+1), a.Task, a.Context, a.ExpectedOutcome)
	if err != nil {
		return FailureResult(fmt.Errorf("sub-delegation failed: %w", err)), nil
	}
	return SuccessResult(summary), nil
}
