// Package agent runs delegations through a bounded tool-use loop.
//
// Information Hiding:
// - Loop mechanics (planning gate, dedup, budgets, nudges) internal
// - Prompt construction internal
// - Callers see Run(ctx, Request) and the fatal error taxonomy
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/weavehq/weave/broadcast"
	"github.com/weavehq/weave/capsule"
	"github.com/weavehq/weave/config"
	"github.com/weavehq/weave/ledger"
	"github.com/weavehq/weave/llm"
	"github.com/weavehq/weave/model"
	"github.com/weavehq/weave/tools"
)

const (
	// summaryCondenseThreshold triggers a condensing model call.
	summaryCondenseThreshold = 4000
	// summaryMaxLen is the hard ceiling after condensing.
	summaryMaxLen = 2000

	// reusedPrefix marks a sub-delegation summary that came from the dedup
	// cache rather than a fresh run.
	reusedPrefix = "(reused) "
)

// Request describes one delegation to execute. SessionID must reference an
// existing ledger record.
type Request struct {
	SessionID       string
	Task            string
	Context         []string
	ExpectedOutcome string
	WorkflowKey     string
	Focus           capsule.FocusState
}

// Result is a finished run's outcome.
type Result struct {
	Summary string
	Usage   model.Usage
}

// UsageSink receives the token spend of finished runs.
type UsageSink interface {
	RecordUsage(sessionID string, usage model.Usage)
}

// Deps wires an executor's collaborators. Classifier and Logger may be nil;
// defaults are applied.
type Deps struct {
	Client      *llm.Client
	Tools       tools.Set
	Ledger      *ledger.Ledger
	Broadcaster *broadcast.Broadcaster
	Capsules    *capsule.Builder
	Classifier  Classifier
	Workflows   *config.WorkflowRegistry
	UsageSink   UsageSink
	Logger      *zap.Logger
}

// Executor drives the agentic loop for one delegation at a time. It is
// stateless across runs and safe for concurrent use.
type Executor struct {
	client      *llm.Client
	tools       tools.Set
	toolRunner  *tools.Executor
	ledger      *ledger.Ledger
	broadcaster *broadcast.Broadcaster
	capsules    *capsule.Builder
	classifier  Classifier
	workflows   *config.WorkflowRegistry
	usageSink   UsageSink
	logger      *zap.Logger
}

// NewExecutor creates an executor from its dependencies.
func NewExecutor(deps Deps) *Executor {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:      deps.Client,
		tools:       deps.Tools,
		toolRunner:  tools.NewExecutor(3),
		ledger:      deps.Ledger,
		broadcaster: deps.Broadcaster,
		capsules:    deps.Capsules,
		classifier:  classifier,
		workflows:   deps.Workflows,
		usageSink:   deps.UsageSink,
		logger:      logger,
	}
}

// runState is the mutable state of one loop invocation. It lives on the
// Run stack; the executor itself stays stateless.
type runState struct {
	budget   *Budget
	cache    *callCache
	edgeSeen map[string]bool

	planDone     bool
	planReminded bool
	nudged       bool

	writes      int
	delegations int
	toolsRun    int

	// delegationSummaries is the running list of sub-delegation outcomes,
	// cache replays prefixed as reused. Fed to the forced summary call.
	delegationSummaries []string
}

// Run executes one delegation to completion. Soft failures are absorbed into
// the loop; a returned error means the delegation was failed in the ledger
// and the caller should log it.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	log := e.logger.With(zap.String("session_id", req.SessionID))

	rec, err := e.ledger.Get(ctx, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load delegation: %w", err)
	}
	if rec == nil {
		return Result{}, ErrDelegationMissing
	}
	if _, err := e.ledger.MarkInProgress(ctx, req.SessionID); err != nil {
		return Result{}, fmt.Errorf("failed to claim delegation: %w", err)
	}

	var workflow *config.Workflow
	if req.WorkflowKey != "" && e.workflows != nil {
		if wf, ok := e.workflows.Get(req.WorkflowKey); ok {
			workflow = &wf
		} else {
			log.Warn("unknown workflow key, running ad-hoc", zap.String("workflow", req.WorkflowKey))
		}
	}

	cls := e.classifier.Classify(req.Task, workflow)
	budget := BudgetFor(cls)
	toolSet := e.shapeTools(cls)

	caps := &capsule.Capsule{}
	if e.capsules != nil {
		built, err := e.capsules.Build(ctx, req.Focus, req.Context)
		if err != nil {
			// Degrade to a capsule-less prompt rather than losing the run
			log.Warn("capsule hydration failed", zap.Error(err))
		} else {
			caps = built
		}
	}

	messages := e.seedConversation(req, cls, workflow, caps)
	defs := toolSet.Definitions()

	var usage model.Usage
	st := &runState{
		budget:   &budget,
		cache:    newCallCache(),
		edgeSeen: map[string]bool{},
		planDone: !toolSet.Has(tools.NamePlan),
	}
	summary := ""

	for budget.NextIteration() {
		if err := e.ledger.Touch(ctx, req.SessionID); err != nil {
			log.Warn("failed to touch delegation", zap.Error(err))
		}

		resp, err := e.client.ChatWithTools(ctx, messages, defs)
		if err != nil {
			return e.fatal(ctx, log, req.SessionID, usage,
				fmt.Errorf("model call failed: %w", err),
				"The run was aborted because the language model service failed.")
		}
		accumulate(&usage, resp.Usage)

		if resp.Content != "" {
			e.emit(broadcast.TextDelta(req.SessionID, resp.Content))
		}

		if !resp.RequestedTools() {
			requiresWrites, performed := e.writeProgress(cls, st)
			if requiresWrites && performed == 0 && !st.nudged {
				st.nudged = true
				messages = append(messages,
					llm.AssistantMessage(resp.Content),
					llm.UserMessage(writeNudge))
				continue
			}
			summary = strings.TrimSpace(resp.Content)
			break
		}

		messages = append(messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		injectPlanReminder := false
		for _, call := range resp.ToolCalls {
			result := e.runToolCall(ctx, log, req, toolSet, st, call)
			if !st.planDone && call.Name != tools.NamePlan && !st.planReminded {
				injectPlanReminder = true
			}
			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err))
			}
			messages = append(messages, llm.ToolResultMessage(call.ID, string(payload)))
			e.emit(broadcast.ToolOutputAvailable(req.SessionID, call.ID, call.Name, result))
		}

		if injectPlanReminder {
			st.planReminded = true
			messages = append(messages, llm.UserMessage(
				"Before any other tool, record your plan with the plan tool. This reminder will not repeat."))
		}

		// Stop-condition check: a reached budget cap, or enough collected
		// material, ends the tool phase and forces one no-tool summary call.
		if e.stopReady(cls, st) {
			requiresWrites, performed := e.writeProgress(cls, st)
			if requiresWrites && performed == 0 {
				if !st.nudged {
					st.nudged = true
					messages = append(messages, llm.UserMessage(writeNudge))
					continue
				}
				// Nothing to summarize honestly; the check below fails the run.
				break
			}
			forced, err := e.forceSummary(ctx, messages, st)
			if err != nil {
				return e.fatal(ctx, log, req.SessionID, usage,
					fmt.Errorf("forced summary failed: %w", err),
					"The run hit its budget and the language model failed to produce a closing summary.")
			}
			accumulate(&usage, forced.Usage)
			summary = strings.TrimSpace(forced.Content)
			break
		}
	}

	requiresWrites, performed := e.writeProgress(cls, st)
	if requiresWrites && performed == 0 {
		return e.fatal(ctx, log, req.SessionID, usage, ErrNoWritesPerformed,
			"The task required changes to the knowledge graph, but the run made none. Nothing was changed.")
	}

	if summary == "" {
		forced, err := e.forceSummary(ctx, messages, st)
		if err != nil {
			return e.fatal(ctx, log, req.SessionID, usage,
				fmt.Errorf("forced summary failed: %w", err),
				"The run ran out of budget and the language model failed to produce a closing summary.")
		}
		accumulate(&usage, forced.Usage)
		summary = strings.TrimSpace(forced.Content)
	}

	summary, condenseUsage := e.postProcessSummary(ctx, summary)
	accumulate(&usage, condenseUsage)

	if summary == "" {
		return e.fatal(ctx, log, req.SessionID, usage, ErrEmptySummary,
			"The run finished without producing a summary of what it did.")
	}

	if _, err := e.ledger.Complete(ctx, req.SessionID, summary); err != nil {
		return Result{}, fmt.Errorf("failed to finalize delegation: %w", err)
	}
	e.emit(broadcast.AssistantMessage(req.SessionID, summary))
	if e.usageSink != nil {
		e.usageSink.RecordUsage(req.SessionID, usage)
	}

	log.Info("run completed",
		zap.Int("iterations", budget.Iterations()),
		zap.Int("writes", st.writes),
		zap.Int("sub_delegations", st.delegations))
	return Result{Summary: summary, Usage: usage}, nil
}

// writeNudge is the one-shot corrective turn injected before accepting a
// no-change outcome from a run that promised changes.
const writeNudge = "The task requires changes to the knowledge graph, but none have been made yet. " +
	"Either perform the remaining work with the available tools, or state plainly that the work could not be done and why."

// runToolCall resolves one tool call into a result, applying the planning
// gate, dedup cache, budgets, and the duplicate-delegation short-circuit.
// The input event fires before the gate so observers see every attempt.
func (e *Executor) runToolCall(ctx context.Context, log *zap.Logger, req Request, toolSet tools.Set, st *runState, call llm.ToolCall) tools.ToolResult {
	e.emit(broadcast.ToolInputStart(req.SessionID, call.ID, call.Name, json.RawMessage(call.Arguments)))

	if !st.planDone && call.Name != tools.NamePlan {
		return tools.FailureResultf("planning required: record a plan with the plan tool before calling %s", call.Name)
	}

	tool, ok := toolSet.Get(call.Name)
	if !ok {
		return tools.FailureResultf("unknown tool %q; available tools: %s", call.Name, strings.Join(toolSet.Names(), ", "))
	}

	// Plan calls are never deduplicated: re-planning is always allowed.
	if call.Name != tools.NamePlan {
		if cached, hit := st.cache.lookup(call.Name, call.Arguments); hit {
			log.Debug("replaying duplicate tool call", zap.String("tool", call.Name))
			if call.Name == tools.NameDelegate {
				st.delegationSummaries = append(st.delegationSummaries, reusedPrefix+cached)
			}
			return tools.SuccessResult(cached + "\n(replayed: an identical call already ran this turn)")
		}
	}

	switch call.Name {
	case tools.NameDelegate:
		var args struct {
			Task    string   `json:"task"`
			Context []string `json:"context"`
		}
		_ = json.Unmarshal(call.Arguments, &args)
		if key := edgePairKey(args.Task, args.Context); key != "" {
			if st.edgeSeen[key] {
				return tools.FailureResultf("a sub-delegation for entity pair %s already ran; do not repeat it", key)
			}
			st.edgeSeen[key] = true
		}
		if !st.budget.ConsumeSubDelegation() {
			return tools.FailureResultf("sub-delegation budget (%d) exhausted; finish the remaining work directly", st.budget.MaxSubDelegations)
		}
	case tools.NameWebSearch:
		if !st.budget.ConsumeWebSearch(searchQueryOf(call.Arguments)) {
			return tools.FailureResultf("web search budget (%d distinct queries) exhausted; work with what you have", st.budget.MaxWebSearches)
		}
	case tools.NameSemanticSearch:
		if !st.budget.ConsumeSemanticSearch(searchQueryOf(call.Arguments)) {
			return tools.FailureResultf("semantic search budget (%d distinct queries) exhausted; work with what you have", st.budget.MaxSemanticSearches)
		}
	}

	result, err := e.toolRunner.Execute(ctx, tool, call.Arguments)
	if err != nil {
		// Context cancellation; surface it as a failed result and let the
		// next model call fail fatally if the context is truly gone.
		return tools.FailureResultf("tool execution aborted: %s", err)
	}

	if !result.Success() {
		log.Debug("tool call failed",
			zap.String("tool", call.Name),
			zap.Error(result.Error))
		return result
	}

	switch {
	case call.Name == tools.NamePlan:
		st.planDone = true
	case isWriteTool(call.Name):
		st.writes++
		st.toolsRun++
	case call.Name == tools.NameDelegate:
		st.delegations++
		st.delegationSummaries = append(st.delegationSummaries, result.Output)
		st.toolsRun++
	default:
		st.toolsRun++
	}
	if call.Name != tools.NamePlan {
		st.cache.remember(call.Name, call.Arguments, result.Output)
	}
	return result
}

// stopReady decides whether the tool phase is over: any budget cap has been
// reached, or enough material exists to summarize — a recorded plan plus, for
// write-allowed runs, at least two distinct sub-delegation outcomes past two
// iterations, or for analysis-only runs, at least one executed tool past one
// iteration.
func (e *Executor) stopReady(cls Classification, st *runState) bool {
	if st.budget.Exhausted() {
		return true
	}
	if !st.planDone {
		return false
	}
	if cls.AllowWrites {
		return st.budget.Iterations() > 2 && distinctSummaries(st.delegationSummaries) >= 2
	}
	return st.budget.Iterations() > 1 && st.toolsRun > 0
}

// distinctSummaries counts unique sub-delegation outcomes, treating a reused
// replay and its original as the same outcome.
func distinctSummaries(items []string) int {
	seen := map[string]bool{}
	for _, s := range items {
		seen[strings.TrimPrefix(s, reusedPrefix)] = true
	}
	return len(seen)
}

// searchQueryOf extracts and normalizes a search call's query so the budget
// counts distinct queries, not attempts.
func searchQueryOf(args json.RawMessage) string {
	var a struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(args, &a)
	return normalizeString(a.Query)
}

// shapeTools derives the run's tool set from its classification.
func (e *Executor) shapeTools(cls Classification) tools.Set {
	set := e.tools
	if cls.AnalysisOnly {
		drop := append([]string{tools.NameDelegate}, tools.WriteToolNames...)
		return set.Without(drop...)
	}
	if cls.DirectEdit {
		return set.Without(tools.NameDelegate)
	}
	return set
}

// seedConversation builds the initial transcript.
func (e *Executor) seedConversation(req Request, cls Classification, workflow *config.Workflow, caps *capsule.Capsule) []llm.ChatMessage {
	directive := "You are an agent operating on the user's personal knowledge graph. " +
		"Work only through the provided tools, verify before you assert, and finish with a plain-language summary of what you did."
	if workflow != nil && workflow.Directive != "" {
		directive = workflow.Directive
	}

	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(req.Task)
	sb.WriteString("\n")
	if rendered := caps.Render(); rendered != "" {
		sb.WriteString("\n")
		sb.WriteString(rendered)
	}
	if req.ExpectedOutcome != "" {
		sb.WriteString("\nExpected outcome: ")
		sb.WriteString(req.ExpectedOutcome)
		sb.WriteString("\n")
	}
	if cls.AnalysisOnly {
		sb.WriteString("\nThis is a read-only task: inspect and report, but do not modify the knowledge graph.\n")
	}

	return []llm.ChatMessage{
		llm.SystemMessage(directive),
		llm.UserMessage(sb.String()),
	}
}

// writeProgress reports whether the classification demands writes and how
// many qualifying actions have happened. Any write-allowed run is held to the
// bar: direct-edit workflows satisfy it through write tools, everything else
// through write tools or sub-delegations.
func (e *Executor) writeProgress(cls Classification, st *runState) (requiresWrites bool, performed int) {
	if !cls.AllowWrites {
		return false, st.writes + st.delegations
	}
	if cls.IsWorkflow && cls.DirectEdit {
		return true, st.writes
	}
	return true, st.writes + st.delegations
}

// forceSummary asks the model to close out a run without further tools,
// handing it the collected sub-delegation outcomes as material.
func (e *Executor) forceSummary(ctx context.Context, messages []llm.ChatMessage, st *runState) (llm.LLMResponse, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The run's tool budget is spent after %d steps. Without calling any more tools, summarize what was accomplished, what was not, and anything the user should know.", st.budget.Iterations())
	if len(st.delegationSummaries) > 0 {
		sb.WriteString("\nSub-delegation outcomes so far:\n")
		for _, s := range st.delegationSummaries {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	messages = append(messages, llm.UserMessage(sb.String()))
	return e.client.Chat(ctx, messages)
}

// postProcessSummary enforces the summary ceilings: condense through the
// model past the first threshold, hard-truncate past the second.
func (e *Executor) postProcessSummary(ctx context.Context, summary string) (string, *llm.TokenUsage) {
	var condenseUsage *llm.TokenUsage
	if len(summary) > summaryCondenseThreshold {
		condensed, usage, err := e.client.ChatText(ctx, []llm.ChatMessage{
			llm.SystemMessage("Condense run summaries. Keep every concrete fact (entity IDs, counts, failures); drop narration."),
			llm.UserMessage(summary),
		})
		condenseUsage = usage
		if err == nil && strings.TrimSpace(condensed) != "" {
			summary = strings.TrimSpace(condensed)
		}
	}
	if len(summary) > summaryMaxLen {
		runes := []rune(summary)
		if len(runes) > summaryMaxLen {
			summary = string(runes[:summaryMaxLen]) + "…"
		}
	}
	return summary, condenseUsage
}

// fatal fails the ledger record, tells the session's observers why, and
// returns the error to the fire-and-forget caller.
func (e *Executor) fatal(ctx context.Context, log *zap.Logger, sessionID string, usage model.Usage, err error, explanation string) (Result, error) {
	log.Error("run failed", zap.Error(err))
	if _, ferr := e.ledger.Fail(ctx, sessionID, explanation); ferr != nil {
		log.Error("failed to record failure", zap.Error(ferr))
	}
	e.emit(broadcast.AssistantMessage(sessionID, explanation))
	if e.usageSink != nil {
		e.usageSink.RecordUsage(sessionID, usage)
	}
	return Result{}, err
}

func (e *Executor) emit(event broadcast.Event) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(event)
	}
}

func isWriteTool(name string) bool {
	for _, w := range tools.WriteToolNames {
		if name == w {
			return true
		}
	}
	return false
}

func accumulate(total *model.Usage, u *llm.TokenUsage) {
	if u == nil {
		return
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	total.LLMCalls++
}
