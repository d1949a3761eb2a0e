// Task classification.
//
// Information Hiding:
// - Keyword heuristics internal to the default classifier
// - Callers only see the resulting Classification

package agent

import (
	"strings"

	"github.com/weavehq/weave/config"
)

// Classification describes how a run should be budgeted and which tools it
// may hold.
type Classification struct {
	// IsWorkflow is true when the task runs under a named workflow.
	IsWorkflow bool
	// AllowWrites permits graph mutation.
	AllowWrites bool
	// AnalysisOnly marks read-and-report tasks; write and delegate tools
	// are withheld and completing without writes is fine.
	AnalysisOnly bool
	// DirectEdit marks runs that mutate the graph themselves rather than
	// fanning out sub-delegations.
	DirectEdit bool
}

// Classifier decides a task's execution characteristics.
type Classifier interface {
	Classify(task string, workflow *config.Workflow) Classification
}

// writeMarkers suggest a task that mutates the graph. Only write intent
// matters: a task without any write marker is read-and-report, so
// "summarize and tag" still writes while "summarize" alone does not.
var writeMarkers = []string{
	"create", "add", "update", "edit", "rename", "link", "connect", "merge",
	"tag", "organize", "organise", "restructure", "capture", "import",
	"record", "save", "enrich", "annotate",
}

// KeywordClassifier is the default heuristic classifier.
type KeywordClassifier struct{}

var _ Classifier = KeywordClassifier{}

// Classify applies the keyword heuristics. A workflow's own characteristics
// win over the heuristics where they conflict.
func (KeywordClassifier) Classify(task string, workflow *config.Workflow) Classification {
	c := Classification{
		IsWorkflow:  workflow != nil,
		AllowWrites: containsAny(strings.ToLower(task), writeMarkers),
	}
	c.AnalysisOnly = !c.AllowWrites
	if workflow != nil {
		// A named workflow exists to produce changes
		c.AnalysisOnly = false
		c.AllowWrites = true
		c.DirectEdit = workflow.DirectEdit
	}
	return c
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
