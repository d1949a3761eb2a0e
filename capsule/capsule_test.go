package capsule

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/weavehq/weave/storage"
)

func newTestBuilder(t *testing.T) (*Builder, *storage.SqliteStorage) {
	t.Helper()
	s, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewBuilder(s, nil), s
}

func mustCreateNode(t *testing.T, s *storage.SqliteStorage, title, content string) int64 {
	t.Helper()
	n, err := s.CreateNode(context.Background(), title, "", nil, content)
	if err != nil {
		t.Fatalf("create node failed: %v", err)
	}
	return n.ID
}

func TestPartitionReferencesFromDirectives(t *testing.T) {
	refs, passthrough := partition([]string{"42", " 7 ", "prefer bullet points", "-3", "3.5", "0"})

	if len(refs) != 2 || refs[0] != 42 || refs[1] != 7 {
		t.Errorf("unexpected refs: %v", refs)
	}
	want := []string{"prefer bullet points", "-3", "3.5", "0"}
	if len(passthrough) != len(want) {
		t.Fatalf("unexpected passthrough: %v", passthrough)
	}
	for i, p := range passthrough {
		if p != want[i] {
			t.Errorf("passthrough[%d] = %q, want %q", i, p, want[i])
		}
	}
}

func TestRoleAssignment(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	active := mustCreateNode(t, s, "Active note", "focus content")
	open := mustCreateNode(t, s, "Open note", "open content")
	referenced := mustCreateNode(t, s, "Referenced note", "ref content")

	focus := FocusState{ActiveID: active, OpenIDs: []int64{open, active}}
	c, err := b.Build(ctx, focus, []string{intToStr(referenced), intToStr(active), "be concise"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(c.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(c.Entities))
	}

	byID := map[int64]Snapshot{}
	for _, e := range c.Entities {
		byID[e.ID] = e
	}
	// Focus beats reference, active beats open, first role wins
	if byID[active].Role != RolePrimary {
		t.Errorf("active entity role = %q, want primary", byID[active].Role)
	}
	if byID[open].Role != RoleSecondary {
		t.Errorf("open entity role = %q, want secondary", byID[open].Role)
	}
	if byID[referenced].Role != RoleReferenced {
		t.Errorf("referenced entity role = %q, want referenced", byID[referenced].Role)
	}

	if len(c.Passthrough) != 1 || c.Passthrough[0] != "be concise" {
		t.Errorf("unexpected passthrough: %v", c.Passthrough)
	}
}

func TestMissingEntitiesAreSkipped(t *testing.T) {
	b, s := newTestBuilder(t)
	real := mustCreateNode(t, s, "Real", "content")

	c, err := b.Build(context.Background(), FocusState{}, []string{intToStr(real), "99999"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Entities) != 1 || c.Entities[0].ID != real {
		t.Errorf("expected only the real entity, got %+v", c.Entities)
	}
}

func TestEntityCap(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	raw := []string{}
	for i := 0; i < maxEntries+4; i++ {
		id := mustCreateNode(t, s, "Note", "content")
		raw = append(raw, intToStr(id))
	}

	c, err := b.Build(ctx, FocusState{}, raw)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Entities) != maxEntries {
		t.Errorf("expected cap at %d entities, got %d", maxEntries, len(c.Entities))
	}
	if len(c.Passthrough) != 0 {
		t.Errorf("a full capsule has no room for passthrough, got %v", c.Passthrough)
	}
}

func TestPassthroughSharesEntryCap(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	raw := []string{}
	for i := 0; i < maxEntries-2; i++ {
		id := mustCreateNode(t, s, "Note", "content")
		raw = append(raw, intToStr(id))
	}
	for i := 0; i < 5; i++ {
		raw = append(raw, "directive "+strconv.Itoa(i))
	}

	c, err := b.Build(ctx, FocusState{}, raw)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Entities) != maxEntries-2 {
		t.Fatalf("expected %d entities, got %d", maxEntries-2, len(c.Entities))
	}
	if len(c.Entities)+len(c.Passthrough) != maxEntries {
		t.Errorf("entities and passthrough must share the %d-entry cap, got %d+%d",
			maxEntries, len(c.Entities), len(c.Passthrough))
	}
	// The surviving passthrough entries keep their order
	if c.Passthrough[0] != "directive 0" || c.Passthrough[1] != "directive 1" {
		t.Errorf("unexpected passthrough: %v", c.Passthrough)
	}
}

func TestFirstOpenEntityPromotedWithoutActive(t *testing.T) {
	b, s := newTestBuilder(t)

	first := mustCreateNode(t, s, "First open", "content")
	second := mustCreateNode(t, s, "Second open", "content")

	c, err := b.Build(context.Background(), FocusState{OpenIDs: []int64{first, second}}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(c.Entities))
	}

	byID := map[int64]Snapshot{}
	for _, e := range c.Entities {
		byID[e.ID] = e
	}
	if byID[first].Role != RolePrimary {
		t.Errorf("with no active entity the first focus entity is primary, got %q", byID[first].Role)
	}
	if byID[second].Role != RoleSecondary {
		t.Errorf("remaining focus entities stay secondary, got %q", byID[second].Role)
	}
}

func TestExcerptWordLimit(t *testing.T) {
	b, s := newTestBuilder(t)

	long := strings.Repeat("word ", 200)
	id := mustCreateNode(t, s, "Long note", long)

	c, err := b.Build(context.Background(), FocusState{ActiveID: id}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(c.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(c.Entities))
	}
	words := strings.Fields(c.Entities[0].Excerpt)
	if len(words) != excerptWordLimit {
		t.Errorf("excerpt has %d words, want %d", len(words), excerptWordLimit)
	}
	if !strings.HasSuffix(c.Entities[0].Excerpt, "…") {
		t.Error("clipped excerpt must end with ellipsis")
	}
}

func TestRenderContainsAllSections(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	id := mustCreateNode(t, s, "Raft notes", "Leader election details.")
	if err := s.InsertChunks(ctx, id, []string{"chunk one", "chunk two"}); err != nil {
		t.Fatalf("insert chunks failed: %v", err)
	}

	c, err := b.Build(ctx, FocusState{ActiveID: id}, []string{"keep it short"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	rendered := c.Render()
	for _, want := range []string{
		"WORKSPACE ENTITIES",
		"GROUND TRUTH",
		"ADDITIONAL CONTEXT",
		"Raft notes",
		"get_chunks",
		"keep it short",
		"Record every entity ID",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered capsule missing %q", want)
		}
	}
}

func TestRenderEmptyCapsule(t *testing.T) {
	b, _ := newTestBuilder(t)

	c, err := b.Build(context.Background(), FocusState{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := c.Render(); got != "" {
		t.Errorf("empty capsule must render empty, got %q", got)
	}
}

func intToStr(id int64) string {
	return strconv.FormatInt(id, 10)
}
