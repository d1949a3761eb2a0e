package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/weavehq/weave/storage"
)

func newGraphStore(t *testing.T) *storage.SqliteStorage {
	t.Helper()
	s, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}
	return data
}

func TestSetWithoutIsImmutable(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewPlanTool()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	store := newGraphStore(t)
	if err := registry.Register(NewCreateEntityTool(store)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(NewGetEntityTool(store)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	full := registry.Set()
	shaped := full.Without(NameCreateEntity, NamePlan)

	if shaped.Len() != 1 || !shaped.Has(NameGetEntity) {
		t.Errorf("unexpected shaped set: %v", shaped.Names())
	}
	// The source set must be untouched
	if full.Len() != 3 {
		t.Errorf("Without mutated the source set: %v", full.Names())
	}
}

func TestSetDefinitions(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewPlanTool()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	defs := registry.Set().Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	def := defs[0]
	if def.Name != NamePlan {
		t.Errorf("unexpected name: %q", def.Name)
	}
	props, ok := def.Parameters["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing properties: %v", def.Parameters)
	}
	steps, ok := props["steps"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing steps property")
	}
	if steps["type"] != "array" {
		t.Errorf("steps type = %v, want array", steps["type"])
	}
	if _, hasItems := steps["items"]; !hasItems {
		t.Error("array parameter must carry items schema")
	}
	req, _ := def.Parameters["required"].([]string)
	if len(req) != 2 {
		t.Errorf("expected 2 required params, got %v", req)
	}
}

func TestPlanTool(t *testing.T) {
	tool := NewPlanTool()
	ctx := context.Background()

	result, err := tool.Execute(ctx, raw(t, map[string]interface{}{
		"goal":  "tidy the reading list",
		"steps": []string{"fetch entity", "update summary"},
	}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if !strings.Contains(result.Output, "1. fetch entity") {
		t.Errorf("plan steps missing from output: %q", result.Output)
	}

	result, err = tool.Execute(ctx, raw(t, map[string]interface{}{"goal": "no steps"}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("plan with no steps must fail")
	}
}

func TestGraphToolsRoundTrip(t *testing.T) {
	store := newGraphStore(t)
	ctx := context.Background()

	create := NewCreateEntityTool(store)
	result, err := create.Execute(ctx, raw(t, map[string]interface{}{
		"title":      "Raft",
		"dimensions": []string{"cs"},
		"content":    "Consensus protocol notes.",
	}))
	if err != nil || !result.Success() {
		t.Fatalf("create failed: err=%v result=%v", err, result.Error)
	}
	if !strings.Contains(result.Output, "Created entity 1") {
		t.Errorf("unexpected create output: %q", result.Output)
	}

	second, err := create.Execute(ctx, raw(t, map[string]interface{}{"title": "Paxos"}))
	if err != nil || !second.Success() {
		t.Fatalf("second create failed: err=%v result=%v", err, second.Error)
	}

	update := NewUpdateEntityTool(store)
	result, err = update.Execute(ctx, raw(t, map[string]interface{}{
		"id":      1,
		"summary": "The understandable consensus algorithm.",
	}))
	if err != nil || !result.Success() {
		t.Fatalf("update failed: err=%v result=%v", err, result.Error)
	}

	edge := NewCreateEdgeTool(store)
	result, err = edge.Execute(ctx, raw(t, map[string]interface{}{
		"source_id": 1, "target_id": 2, "relation": "compares_to",
	}))
	if err != nil || !result.Success() {
		t.Fatalf("edge failed: err=%v result=%v", err, result.Error)
	}

	get := NewGetEntityTool(store)
	result, err = get.Execute(ctx, raw(t, map[string]interface{}{"id": 1}))
	if err != nil || !result.Success() {
		t.Fatalf("get failed: err=%v result=%v", err, result.Error)
	}
	for _, want := range []string{"Raft", "The understandable consensus algorithm.", "compares_to"} {
		if !strings.Contains(result.Output, want) {
			t.Errorf("get output missing %q: %q", want, result.Output)
		}
	}
}

func TestGraphToolFailures(t *testing.T) {
	store := newGraphStore(t)
	ctx := context.Background()

	update := NewUpdateEntityTool(store)
	title := "ghost"
	result, err := update.Execute(ctx, raw(t, map[string]interface{}{"id": 99, "title": title}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("update of missing entity must fail")
	}

	result, err = update.Execute(ctx, raw(t, map[string]interface{}{"id": 99}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("empty update must fail")
	}

	edge := NewCreateEdgeTool(store)
	result, err = edge.Execute(ctx, raw(t, map[string]interface{}{
		"source_id": 1, "target_id": 2, "relation": "x",
	}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("edge between missing entities must fail")
	}

	result, err = edge.Execute(ctx, raw(t, map[string]interface{}{
		"source_id": 1, "target_id": 1, "relation": "self",
	}))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("self-edge must fail")
	}
}

func TestSemanticSearchTool(t *testing.T) {
	store := newGraphStore(t)
	ctx := context.Background()

	n, err := store.CreateNode(ctx, "Gardening", "", nil, "")
	if err != nil {
		t.Fatalf("create node failed: %v", err)
	}
	if err := store.InsertChunks(ctx, n.ID, []string{"Tomatoes need sun.", "Basil likes warmth."}); err != nil {
		t.Fatalf("insert chunks failed: %v", err)
	}

	tool := NewSemanticSearchTool(store, 5)
	result, err := tool.Execute(ctx, raw(t, map[string]interface{}{"query": "tomatoes"}))
	if err != nil || !result.Success() {
		t.Fatalf("search failed: err=%v result=%v", err, result.Error)
	}
	if !strings.Contains(result.Output, "Tomatoes need sun.") {
		t.Errorf("expected matching chunk, got %q", result.Output)
	}

	result, err = tool.Execute(ctx, raw(t, map[string]interface{}{"query": "spaceships"}))
	if err != nil || !result.Success() {
		t.Fatalf("search failed: err=%v result=%v", err, result.Error)
	}
	if !strings.Contains(result.Output, "No stored content") {
		t.Errorf("expected empty-result message, got %q", result.Output)
	}
}

func TestDelegateToolDepthLimit(t *testing.T) {
	calls := 0
	runner := func(ctx context.Context, task string, taskContext []string, outcome string) (string, error) {
		calls++
		return "sub-task done", nil
	}
	tool := NewDelegateTool(runner)

	args := raw(t, map[string]interface{}{"task": "do a thing"})

	result, err := tool.Execute(context.Background(), args)
	if err != nil || !result.Success() {
		t.Fatalf("delegate failed: err=%v result=%v", err, result.Error)
	}
	if result.Output != "sub-task done" {
		t.Errorf("unexpected output: %q", result.Output)
	}
	if calls != 1 {
		t.Errorf("runner called %d times, want 1", calls)
	}

	deep := WithDelegationDepth(context.Background(), maxDelegationDepth)
	result, err = tool.Execute(deep, args)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("delegation past the depth limit must fail")
	}
	if calls != 1 {
		t.Error("runner must not run past the depth limit")
	}
}

func TestExecutorRetriesOnlyTransientFailures(t *testing.T) {
	e := NewExecutor(3)

	flaky := &scriptedTool{results: []ToolResult{
		FailureResultf("connection reset"),
		SuccessResult("ok"),
	}}
	result, err := e.Execute(context.Background(), flaky, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success() || result.Output != "ok" {
		t.Errorf("expected retried success, got %v", result)
	}
	if flaky.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", flaky.calls)
	}

	hard := &scriptedTool{results: []ToolResult{
		FailureResultf("entity 7 does not exist"),
		SuccessResult("never reached"),
	}}
	result, err = e.Execute(context.Background(), hard, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Success() {
		t.Error("non-transient failure must not be retried into success")
	}
	if hard.calls != 1 {
		t.Errorf("expected 1 attempt for non-transient failure, got %d", hard.calls)
	}
}

type scriptedTool struct {
	BaseTool
	results []ToolResult
	calls   int
}

func (s *scriptedTool) Metadata() ToolMetadata {
	return ToolMetadata{Name: "scripted", Description: "test double"}
}

func (s *scriptedTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}
