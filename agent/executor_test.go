package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/weavehq/weave/broadcast"
	"github.com/weavehq/weave/capsule"
	"github.com/weavehq/weave/config"
	"github.com/weavehq/weave/ledger"
	"github.com/weavehq/weave/llm"
	"github.com/weavehq/weave/model"
	"github.com/weavehq/weave/storage"
	"github.com/weavehq/weave/tools"
)

// fakeProvider replays scripted responses and records what it was asked.
type fakeProvider struct {
	withTools []llm.LLMResponse
	noTools   []llm.LLMResponse

	seenDefs     [][]llm.ToolDefinition
	seenMessages [][]llm.ChatMessage
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	f.seenMessages = append(f.seenMessages, messages)
	if len(f.noTools) == 0 {
		return llm.LLMResponse{Content: "", FinishReason: llm.FinishStop}, nil
	}
	resp := f.noTools[0]
	f.noTools = f.noTools[1:]
	return resp, nil
}

func (f *fakeProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, defs []llm.ToolDefinition) (llm.LLMResponse, error) {
	f.seenDefs = append(f.seenDefs, defs)
	f.seenMessages = append(f.seenMessages, messages)
	if len(f.withTools) == 0 {
		return llm.LLMResponse{Content: "nothing left to do", FinishReason: llm.FinishStop}, nil
	}
	resp := f.withTools[0]
	f.withTools = f.withTools[1:]
	return resp, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	return nil, nil
}

var _ llm.Provider = (*fakeProvider)(nil)

// countingTool counts executions and always succeeds.
type countingTool struct {
	tools.BaseTool
	name  string
	calls int
}

func (c *countingTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: c.name, Description: "test double", Parameters: []tools.ToolParameter{
		{Name: "id", ParamType: "integer", Description: "target", Required: false},
	}}
}

func (c *countingTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	c.calls++
	return tools.SuccessResult("probe result"), nil
}

type harness struct {
	provider *fakeProvider
	executor *Executor
	ledger   *ledger.Ledger
	store    *storage.SqliteStorage
	registry *tools.Registry
	runner   *delegateRecorder
}

type delegateRecorder struct {
	calls []string
	fail  bool
}

func (d *delegateRecorder) run(ctx context.Context, task string, taskContext []string, outcome string) (string, error) {
	d.calls = append(d.calls, task)
	if d.fail {
		return "", errors.New("worker unavailable")
	}
	return "sub-task done: " + task, nil
}

func newHarness(t *testing.T, provider *fakeProvider) *harness {
	t.Helper()
	store, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	led := ledger.New(store, nil, nil)
	recorder := &delegateRecorder{}

	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewPlanTool(),
		tools.NewDelegateTool(recorder.run),
		tools.NewCreateEntityTool(store),
		tools.NewUpdateEntityTool(store),
		tools.NewCreateEdgeTool(store),
		tools.NewGetEntityTool(store),
		tools.NewGetChunksTool(store, 20),
		tools.NewSemanticSearchTool(store, 10),
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	executor := NewExecutor(Deps{
		Client:      llm.NewClient(provider),
		Tools:       registry.Set(),
		Ledger:      led,
		Broadcaster: broadcast.New(nil),
		Capsules:    capsule.NewBuilder(store, nil),
		Workflows:   config.NewWorkflowRegistry(),
	})

	return &harness{provider: provider, executor: executor, ledger: led, store: store, registry: registry, runner: recorder}
}

func (h *harness) newRequest(t *testing.T, task string, taskContext []string, workflowKey string) Request {
	t.Helper()
	d, err := h.ledger.Create(context.Background(), task, taskContext, "", model.AgentWorker)
	if err != nil {
		t.Fatalf("create delegation failed: %v", err)
	}
	return Request{
		SessionID:   d.SessionID,
		Task:        task,
		Context:     taskContext,
		WorkflowKey: workflowKey,
	}
}

func (h *harness) collectEvents(t *testing.T, sessionID string) *[]broadcast.Event {
	t.Helper()
	events := &[]broadcast.Event{}
	h.executor.broadcaster.Subscribe(sessionID, func(e broadcast.Event) error {
		*events = append(*events, e)
		return nil
	})
	return events
}

func toolCall(id, name string, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func planCall(id string) llm.ToolCall {
	return toolCall(id, tools.NamePlan, `{"goal": "finish the task", "steps": ["do the work"]}`)
}

func TestAnalysisOnlyRunShapesToolsAndCompletes(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{Content: "The entity covers consensus basics.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "summarize what the focused entity covers", nil, "")
	result, err := h.executor.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Summary != "The entity covers consensus basics." {
		t.Errorf("unexpected summary: %q", result.Summary)
	}

	d, _ := h.ledger.Get(context.Background(), req.SessionID)
	if d.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %q", d.Status)
	}

	offered := map[string]bool{}
	for _, def := range provider.seenDefs[0] {
		offered[def.Name] = true
	}
	for _, banned := range []string{tools.NameCreateEntity, tools.NameUpdateEntity, tools.NameCreateEdge, tools.NameDelegate} {
		if offered[banned] {
			t.Errorf("analysis-only run must not be offered %s", banned)
		}
	}
	if !offered[tools.NameGetEntity] || !offered[tools.NameSemanticSearch] {
		t.Errorf("read tools missing from offer: %v", offered)
	}

	seed := provider.seenMessages[0]
	if !strings.Contains(seed[1].Content, "read-only") {
		t.Error("analysis-only seed must state the read-only constraint")
	}
}

func TestDuplicateToolCallIsReplayed(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c0")}},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls: []llm.ToolCall{
					toolCall("c1", "probe", `{"id": 3, "note": "Check  THIS"}`),
					toolCall("c2", "probe", `{"note": "check this", "id": 3}`),
				},
			},
		},
		noTools: []llm.LLMResponse{{Content: "Reviewed the entries."}},
	}
	h := newHarness(t, provider)

	probe := &countingTool{name: "probe"}
	if err := h.registry.Register(probe); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	h.executor.tools = h.registry.Set()

	req := h.newRequest(t, "review the entries", nil, "")
	result, err := h.executor.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if probe.calls != 1 {
		t.Errorf("identical call must execute once, got %d", probe.calls)
	}
	if result.Summary != "Reviewed the entries." {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
}

func TestWorkflowPlanGate(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c1", tools.NameDelegate, `{"task": "move entity 4 under entity 9"}`)},
			},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c2", tools.NamePlan, `{"goal": "restructure", "steps": ["delegate the move"]}`)},
			},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c3", tools.NameDelegate, `{"task": "move entity 4 under entity 9"}`)},
			},
			{Content: "Restructured: entity 4 now sits under entity 9.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "organize these notes", nil, "organize")
	result, err := h.executor.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(h.runner.calls) != 1 {
		t.Errorf("delegate must run only after the plan, got %d calls", len(h.runner.calls))
	}
	if !strings.Contains(result.Summary, "Restructured") {
		t.Errorf("unexpected summary: %q", result.Summary)
	}

	// The one-shot reminder appears exactly once in any transcript
	reminders := 0
	last := provider.seenMessages[len(provider.seenMessages)-1]
	for _, m := range last {
		if m.Role == "user" && strings.Contains(m.Content, "reminder will not repeat") {
			reminders++
		}
	}
	if reminders != 1 {
		t.Errorf("expected exactly one plan reminder, got %d", reminders)
	}
}

func TestPlanGateAppliesToAdHocRuns(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c1", tools.NameCreateEntity, `{"title": "New note"}`)},
			},
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c2")}},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c3", tools.NameCreateEntity, `{"title": "New note"}`)},
			},
			{Content: "Added the note.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "add a note about raft", nil, "")
	events := h.collectEvents(t, req.SessionID)

	if _, err := h.executor.Run(context.Background(), req); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The gated first call executes nothing, but is still announced
	if (*events)[0].Type != broadcast.EventToolInputStart || (*events)[0].ToolName != tools.NameCreateEntity {
		t.Errorf("gated call must still announce its input, got %+v", (*events)[0])
	}
	if (*events)[1].Type != broadcast.EventToolOutputAvailable {
		t.Errorf("gated call must report an output event, got %+v", (*events)[1])
	}
	if payload := fmt.Sprintf("%v", (*events)[1].Payload); !strings.Contains(payload, "planning required") {
		t.Errorf("gate rejection missing from output payload: %s", payload)
	}

	// Only the post-plan create actually ran
	if n, err := h.store.GetNode(context.Background(), 1); err != nil || n == nil {
		t.Errorf("post-plan create must run: node=%v err=%v", n, err)
	}
	if n, _ := h.store.GetNode(context.Background(), 2); n != nil {
		t.Error("gated create must not run")
	}
}

func TestPlanCallsAreNotDeduplicated(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c1")}},
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c2")}},
			{Content: "Compared the two approaches.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "compare the two approaches", nil, "")
	events := h.collectEvents(t, req.SessionID)

	if _, err := h.executor.Run(context.Background(), req); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, e := range *events {
		if e.Type != broadcast.EventToolOutputAvailable {
			continue
		}
		if payload := fmt.Sprintf("%v", e.Payload); strings.Contains(payload, "replayed") {
			t.Errorf("identical plan calls must both execute, got replay: %s", payload)
		}
	}
}

func TestWorkflowWithoutWritesFails(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c1", tools.NamePlan, `{"goal": "organize", "steps": ["look around"]}`)},
			},
			{Content: "Everything already looks organized.", FinishReason: llm.FinishStop},
			{Content: "Really, nothing to do.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "organize these notes", nil, "organize")
	_, err := h.executor.Run(context.Background(), req)
	if !errors.Is(err, ErrNoWritesPerformed) {
		t.Fatalf("expected ErrNoWritesPerformed, got %v", err)
	}

	d, _ := h.ledger.Get(context.Background(), req.SessionID)
	if d.Status != model.StatusFailed {
		t.Errorf("expected failed, got %q", d.Status)
	}
	if !strings.Contains(d.Summary, "made none") {
		t.Errorf("failure explanation missing: %q", d.Summary)
	}
}

func TestAdHocWriteIntentWithoutWritesFails(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{Content: "I updated the notes as requested.", FinishReason: llm.FinishStop},
			{Content: "As said, the notes are updated.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "update the project notes with the meeting outcome", nil, "")
	_, err := h.executor.Run(context.Background(), req)
	if !errors.Is(err, ErrNoWritesPerformed) {
		t.Fatalf("a write-intent run with zero writes must fail, got %v", err)
	}

	d, _ := h.ledger.Get(context.Background(), req.SessionID)
	if d.Status != model.StatusFailed {
		t.Errorf("expected failed, got %q", d.Status)
	}
	if !strings.Contains(d.Summary, "made none") {
		t.Errorf("failure explanation missing: %q", d.Summary)
	}
}

func TestSubDelegationBudgetForcesFinalSummary(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c0")}},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls: []llm.ToolCall{
					toolCall("c1", tools.NameDelegate, `{"task": "first thing"}`),
					toolCall("c2", tools.NameDelegate, `{"task": "second thing"}`),
					toolCall("c3", tools.NameDelegate, `{"task": "third thing"}`),
				},
			},
		},
		noTools: []llm.LLMResponse{{Content: "Delegated what the budget allowed.", FinishReason: llm.FinishStop}},
	}
	h := newHarness(t, provider)

	// Ad-hoc write-intent task: 2 sub-delegations allowed
	req := h.newRequest(t, "update the project notes", nil, "")
	result, err := h.executor.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(h.runner.calls) != 2 {
		t.Errorf("expected 2 sub-delegations, got %d: %v", len(h.runner.calls), h.runner.calls)
	}
	// Hitting the cap ends the tool phase: one no-tool summary call, no
	// further tool-enabled turns.
	if len(provider.seenDefs) != 2 {
		t.Errorf("expected 2 tool-enabled model calls, got %d", len(provider.seenDefs))
	}
	if result.Summary != "Delegated what the budget allowed." {
		t.Errorf("unexpected summary: %q", result.Summary)
	}

	d, _ := h.ledger.Get(context.Background(), req.SessionID)
	if d.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %q", d.Status)
	}
}

func TestRepeatedEntityPairDelegationShortCircuits(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{planCall("c0")}},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c1", tools.NameDelegate, `{"task": "link entity 12 to entity 34"}`)},
			},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c2", tools.NameDelegate, `{"task": "connect 12 with 34 again"}`)},
			},
			{Content: "Linked the two entities.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "update the graph links", nil, "")
	if _, err := h.executor.Run(context.Background(), req); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(h.runner.calls) != 1 {
		t.Errorf("repeat delegation on the same entity pair must be blocked, got %d calls", len(h.runner.calls))
	}
}

func TestEmptySummaryIsFatal(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{Content: "   ", FinishReason: llm.FinishStop},
		},
		// Forced summary also comes back empty
		noTools: []llm.LLMResponse{{Content: ""}},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "summarize the workspace", nil, "")
	_, err := h.executor.Run(context.Background(), req)
	if !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary, got %v", err)
	}

	d, _ := h.ledger.Get(context.Background(), req.SessionID)
	if d.Status != model.StatusFailed {
		t.Errorf("expected failed, got %q", d.Status)
	}
}

func TestOversizedSummaryIsCondensedThenTruncated(t *testing.T) {
	longSummary := strings.Repeat("detail ", 700) // ~4900 chars
	stillLong := strings.Repeat("x", summaryMaxLen+500)
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{Content: longSummary, FinishReason: llm.FinishStop},
		},
		noTools: []llm.LLMResponse{{Content: stillLong}},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "describe the workspace", nil, "")
	result, err := h.executor.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	runes := []rune(result.Summary)
	if len(runes) != summaryMaxLen+1 {
		t.Errorf("expected truncation to %d runes plus ellipsis, got %d", summaryMaxLen, len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Error("truncated summary must end with ellipsis")
	}
}

func TestBroadcastEventsDuringRun(t *testing.T) {
	provider := &fakeProvider{
		withTools: []llm.LLMResponse{
			{
				Content:      "Looking at the entity first.",
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{planCall("c1")},
			},
			{
				FinishReason: llm.FinishToolCalls,
				ToolCalls:    []llm.ToolCall{toolCall("c2", tools.NameCreateEntity, `{"title": "New note"}`)},
			},
			{Content: "Created the note.", FinishReason: llm.FinishStop},
		},
	}
	h := newHarness(t, provider)

	req := h.newRequest(t, "add a note about raft", nil, "")
	events := h.collectEvents(t, req.SessionID)

	if _, err := h.executor.Run(context.Background(), req); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var types []broadcast.EventType
	for _, e := range *events {
		types = append(types, e.Type)
	}
	want := []broadcast.EventType{
		broadcast.EventTextDelta,
		broadcast.EventToolInputStart,
		broadcast.EventToolOutputAvailable,
		broadcast.EventToolInputStart,
		broadcast.EventToolOutputAvailable,
		broadcast.EventTextDelta,
		broadcast.EventAssistantMessage,
	}
	if len(types) != len(want) {
		t.Fatalf("event sequence %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
