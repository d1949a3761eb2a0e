// Planning tool.
//
// Information Hiding:
// - The plan is not persisted; it lives in the conversation transcript.
// - The executor gates other tools on this one having run first for
//   workflow runs.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanTool records the run's plan of attack. Executing it has no side
// effects beyond echoing the plan back into the transcript; its value is
// forcing the model to commit to steps before acting.
type PlanTool struct {
	BaseTool
}

// NewPlanTool creates the planning tool.
func NewPlanTool() *PlanTool {
	return &PlanTool{}
}

// Metadata returns the tool metadata.
func (t *PlanTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NamePlan,
		Description: "Record your plan before taking any other action. List the concrete steps you will perform, in order.",
		Parameters: []ToolParameter{
			{Name: "goal", ParamType: "string", Description: "One sentence stating what the task will accomplish", Required: true},
			{Name: "steps", ParamType: "array", Description: "Ordered list of concrete steps", Required: true},
		},
	}
}

type planArgs struct {
	Goal  string   `json:"goal"`
	Steps []string `json:"steps"`
}

// Validate validates the arguments.
func (t *PlanTool) Validate(args json.RawMessage) error {
	var a planArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if len(a.Steps) == 0 {
		return fmt.Errorf("plan must contain at least one step")
	}
	return nil
}

// Execute echoes the plan back as the tool result.
func (t *PlanTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a planArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if len(a.Steps) == 0 {
		return FailureResultf("plan must contain at least one step"), nil
	}

	var sb strings.Builder
	sb.WriteString("Plan recorded")
	if a.Goal != "" {
		sb.WriteString(": ")
		sb.WriteString(a.Goal)
	}
	sb.WriteString("\n")
	for i, step := range a.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	sb.WriteString("Proceed with step 1.")

	return SuccessResult(sb.String()), nil
}
