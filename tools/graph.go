// Knowledge-graph tools.
//
// Information Hiding:
// - Store access behind storage.GraphStore
// - Result rendering for the model is internal to each tool

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weavehq/weave/storage"
)

// CreateEntityTool creates a new knowledge-graph entity.
type CreateEntityTool struct {
	BaseTool
	store storage.GraphStore
}

// NewCreateEntityTool creates the tool over the given store.
func NewCreateEntityTool(store storage.GraphStore) *CreateEntityTool {
	return &CreateEntityTool{store: store}
}

// Metadata returns the tool metadata.
func (t *CreateEntityTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameCreateEntity,
		Description: "Create a new entity in the knowledge graph. Returns the new entity's ID.",
		Parameters: []ToolParameter{
			{Name: "title", ParamType: "string", Description: "Entity title", Required: true},
			{Name: "link", ParamType: "string", Description: "Source URL, if the entity captures an external resource", Required: false},
			{Name: "dimensions", ParamType: "array", Description: "Classification tags", Required: false},
			{Name: "content", ParamType: "string", Description: "Entity body text", Required: false},
		},
	}
}

type createEntityArgs struct {
	Title      string   `json:"title"`
	Link       string   `json:"link"`
	Dimensions []string `json:"dimensions"`
	Content    string   `json:"content"`
}

// Validate validates the arguments.
func (t *CreateEntityTool) Validate(args json.RawMessage) error {
	var a createEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	return nil
}

// Execute creates the entity.
func (t *CreateEntityTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a createEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Title) == "" {
		return FailureResultf("title cannot be empty"), nil
	}

	node, err := t.store.CreateNode(ctx, a.Title, a.Link, a.Dimensions, a.Content)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create entity: %w", err)), nil
	}
	return SuccessResult(fmt.Sprintf("Created entity %d (%q)", node.ID, node.Title)), nil
}

// UpdateEntityTool updates fields of an existing entity.
type UpdateEntityTool struct {
	BaseTool
	store storage.GraphStore
}

// NewUpdateEntityTool creates the tool over the given store.
func NewUpdateEntityTool(store storage.GraphStore) *UpdateEntityTool {
	return &UpdateEntityTool{store: store}
}

// Metadata returns the tool metadata.
func (t *UpdateEntityTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameUpdateEntity,
		Description: "Update an existing entity. Only the fields you pass are changed.",
		Parameters: []ToolParameter{
			{Name: "id", ParamType: "integer", Description: "Entity ID", Required: true},
			{Name: "title", ParamType: "string", Description: "New title", Required: false},
			{Name: "link", ParamType: "string", Description: "New source URL", Required: false},
			{Name: "dimensions", ParamType: "array", Description: "Replacement classification tags", Required: false},
			{Name: "content", ParamType: "string", Description: "Replacement body text", Required: false},
			{Name: "summary", ParamType: "string", Description: "Replacement summary", Required: false},
		},
	}
}

type updateEntityArgs struct {
	ID         int64     `json:"id"`
	Title      *string   `json:"title"`
	Link       *string   `json:"link"`
	Dimensions *[]string `json:"dimensions"`
	Content    *string   `json:"content"`
	Summary    *string   `json:"summary"`
}

// Validate validates the arguments.
func (t *UpdateEntityTool) Validate(args json.RawMessage) error {
	var a updateEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.ID <= 0 {
		return fmt.Errorf("id must be a positive entity ID")
	}
	return nil
}

// Execute applies the update.
func (t *UpdateEntityTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a updateEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if a.ID <= 0 {
		return FailureResultf("id must be a positive entity ID"), nil
	}
	if a.Title == nil && a.Link == nil && a.Dimensions == nil && a.Content == nil && a.Summary == nil {
		return FailureResultf("update must change at least one field"), nil
	}

	ok, err := t.store.UpdateNode(ctx, a.ID, storage.NodeUpdate{
		Title:      a.Title,
		Link:       a.Link,
		Dimensions: a.Dimensions,
		Content:    a.Content,
		Summary:    a.Summary,
	})
	if err != nil {
		return FailureResult(fmt.Errorf("failed to update entity: %w", err)), nil
	}
	if !ok {
		return FailureResultf("entity %d does not exist", a.ID), nil
	}
	return SuccessResult(fmt.Sprintf("Updated entity %d", a.ID)), nil
}

// CreateEdgeTool links two entities with a directed relation.
type CreateEdgeTool struct {
	BaseTool
	store storage.GraphStore
}

// NewCreateEdgeTool creates the tool over the given store.
func NewCreateEdgeTool(store storage.GraphStore) *CreateEdgeTool {
	return &CreateEdgeTool{store: store}
}

// Metadata returns the tool metadata.
func (t *CreateEdgeTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameCreateEdge,
		Description: "Create a directed relation between two existing entities.",
		Parameters: []ToolParameter{
			{Name: "source_id", ParamType: "integer", Description: "Source entity ID", Required: true},
			{Name: "target_id", ParamType: "integer", Description: "Target entity ID", Required: true},
			{Name: "relation", ParamType: "string", Description: "Relation label, e.g. 'explains' or 'contradicts'", Required: true},
		},
	}
}

type createEdgeArgs struct {
	SourceID int64  `json:"source_id"`
	TargetID int64  `json:"target_id"`
	Relation string `json:"relation"`
}

// Validate validates the arguments.
func (t *CreateEdgeTool) Validate(args json.RawMessage) error {
	var a createEdgeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.SourceID <= 0 || a.TargetID <= 0 {
		return fmt.Errorf("source_id and target_id must be positive entity IDs")
	}
	if a.SourceID == a.TargetID {
		return fmt.Errorf("an entity cannot relate to itself")
	}
	if strings.TrimSpace(a.Relation) == "" {
		return fmt.Errorf("relation cannot be empty")
	}
	return nil
}

// Execute creates the edge. Both endpoints must exist.
func (t *CreateEdgeTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a createEdgeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if err := t.Validate(args); err != nil {
		return FailureResult(err), nil
	}

	for _, id := range []int64{a.SourceID, a.TargetID} {
		node, err := t.store.GetNode(ctx, id)
		if err != nil {
			return FailureResult(fmt.Errorf("failed to check entity %d: %w", id, err)), nil
		}
		if node == nil {
			return FailureResultf("entity %d does not exist", id), nil
		}
	}

	edge, err := t.store.CreateEdge(ctx, a.SourceID, a.TargetID, a.Relation)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create edge: %w", err)), nil
	}
	return SuccessResult(fmt.Sprintf("Linked %d -[%s]-> %d", edge.SourceID, edge.Relation, edge.TargetID)), nil
}

// GetEntityTool fetches one entity with its edges.
type GetEntityTool struct {
	BaseTool
	store storage.GraphStore
}

// NewGetEntityTool creates the tool over the given store.
func NewGetEntityTool(store storage.GraphStore) *GetEntityTool {
	return &GetEntityTool{store: store}
}

// Metadata returns the tool metadata.
func (t *GetEntityTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameGetEntity,
		Description: "Fetch an entity's fields and its relations to other entities.",
		Parameters: []ToolParameter{
			{Name: "id", ParamType: "integer", Description: "Entity ID", Required: true},
		},
	}
}

type getEntityArgs struct {
	ID int64 `json:"id"`
}

// Execute fetches the entity.
func (t *GetEntityTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a getEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	node, err := t.store.GetNode(ctx, a.ID)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to fetch entity: %w", err)), nil
	}
	if node == nil {
		return FailureResultf("entity %d does not exist", a.ID), nil
	}

	edges, err := t.store.ListEdges(ctx, a.ID)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to fetch relations: %w", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Entity %d: %s\n", node.ID, node.Title)
	if node.Link != "" {
		fmt.Fprintf(&sb, "Link: %s\n", node.Link)
	}
	if len(node.Dimensions) > 0 {
		fmt.Fprintf(&sb, "Dimensions: %s\n", strings.Join(node.Dimensions, ", "))
	}
	if node.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", node.Summary)
	}
	if node.Content != "" {
		fmt.Fprintf(&sb, "Content: %s\n", node.Content)
	}
	if node.HasChunks() {
		fmt.Fprintf(&sb, "Chunked content available (%d chunks); use get_chunks for detail.\n", node.ChunkCount)
	}
	if len(edges) > 0 {
		sb.WriteString("Relations:\n")
		for _, e := range edges {
			fmt.Fprintf(&sb, "  %d -[%s]-> %d\n", e.SourceID, e.Relation, e.TargetID)
		}
	}

	return SuccessResult(sb.String()), nil
}

// GetChunksTool fetches an entity's chunked content.
type GetChunksTool struct {
	BaseTool
	store storage.GraphStore
	limit int
}

// NewGetChunksTool creates the tool over the given store. limit caps how
// many chunks one call can return.
func NewGetChunksTool(store storage.GraphStore, limit int) *GetChunksTool {
	if limit <= 0 {
		limit = 20
	}
	return &GetChunksTool{store: store, limit: limit}
}

// Metadata returns the tool metadata.
func (t *GetChunksTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameGetChunks,
		Description: "Fetch an entity's full chunked content in order.",
		Parameters: []ToolParameter{
			{Name: "id", ParamType: "integer", Description: "Entity ID", Required: true},
		},
	}
}

// Execute fetches the chunks.
func (t *GetChunksTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a getEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	chunks, err := t.store.GetChunks(ctx, a.ID, t.limit)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to fetch chunks: %w", err)), nil
	}
	if len(chunks) == 0 {
		return FailureResultf("entity %d has no chunked content", a.ID), nil
	}

	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", c.Ordinal, c.Text)
	}
	return SuccessResult(sb.String()), nil
}
