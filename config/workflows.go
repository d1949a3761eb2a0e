// Workflow registry.
//
// Information Hiding:
// - Built-in workflow definitions
// - yaml file layout

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/weavehq/weave/model"
)

// Workflow is a named, pre-defined task shape. A delegation carrying a
// workflow key gets the workflow's directive as its system prompt and
// inherits its execution characteristics.
type Workflow struct {
	Key string `yaml:"key"`
	// Directive is the system prompt for runs of this workflow.
	Directive string `yaml:"directive"`
	// DirectEdit marks workflows that mutate the graph themselves instead
	// of fanning out sub-delegations.
	DirectEdit bool `yaml:"direct_edit"`
	// AgentType is the executor class the workflow defaults to.
	AgentType model.AgentType `yaml:"agent_type"`
}

// WorkflowRegistry resolves workflow keys to definitions.
type WorkflowRegistry struct {
	workflows map[string]Workflow
}

// BuiltinWorkflows are the workflows every installation carries.
func BuiltinWorkflows() []Workflow {
	return []Workflow{
		{
			Key: "organize",
			Directive: "You are organizing the user's knowledge graph. Survey the entities in context, " +
				"decide on a structure, then fan the restructuring out as focused sub-delegations. " +
				"Each sub-delegation should touch a small, coherent set of entities.",
			AgentType: model.AgentPlanner,
		},
		{
			Key: "capture",
			Directive: "You are capturing new material into the knowledge graph. Create entities for the " +
				"material in context, set dimensions, and link related entities. Write directly; do not delegate.",
			DirectEdit: true,
			AgentType:  model.AgentWorker,
		},
		{
			Key: "enrich",
			Directive: "You are enriching existing entities. For each entity in context, research missing " +
				"detail with the search tools, then update the entity with what you found. Write directly; do not delegate.",
			DirectEdit: true,
			AgentType:  model.AgentWorker,
		},
		{
			Key: "synthesize",
			Directive: "You are synthesizing across the user's knowledge graph. Read the entities in context " +
				"and their chunked content, find connecting threads, and record the synthesis as new entities " +
				"and edges via sub-delegations.",
			AgentType: model.AgentPlanner,
		},
	}
}

// NewWorkflowRegistry creates a registry with the built-in workflows.
func NewWorkflowRegistry() *WorkflowRegistry {
	r := &WorkflowRegistry{workflows: make(map[string]Workflow)}
	for _, wf := range BuiltinWorkflows() {
		r.workflows[wf.Key] = wf
	}
	return r
}

// LoadWorkflows creates a registry with the built-ins plus definitions from
// a yaml file. File entries override built-ins with the same key.
func LoadWorkflows(path string) (*WorkflowRegistry, error) {
	r := NewWorkflowRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows file: %w", err)
	}

	var file struct {
		Workflows []Workflow `yaml:"workflows"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workflows file: %w", err)
	}

	for _, wf := range file.Workflows {
		if wf.Key == "" {
			return nil, fmt.Errorf("workflow with empty key in %s", path)
		}
		if wf.AgentType == "" {
			wf.AgentType = model.AgentWorker
		}
		r.workflows[wf.Key] = wf
	}

	return r, nil
}

// Get resolves a workflow key. The second return is false for unknown keys.
func (r *WorkflowRegistry) Get(key string) (Workflow, bool) {
	wf, ok := r.workflows[key]
	return wf, ok
}

// Keys returns all registered workflow keys.
func (r *WorkflowRegistry) Keys() []string {
	keys := make([]string, 0, len(r.workflows))
	for k := range r.workflows {
		keys = append(keys, k)
	}
	return keys
}
