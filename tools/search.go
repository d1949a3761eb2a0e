// Search tools: external web lookup and in-graph chunk search.
//
// Information Hiding:
// - HTTP client details hidden inside the web tool
// - Chunk ranking hidden behind the store

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weavehq/weave/storage"
)

// WebSearchTool queries an external search endpoint and returns the raw
// response body for the model to read.
type WebSearchTool struct {
	BaseTool
	client      *http.Client
	endpoint    string
	timeoutSecs uint64
}

// DefaultSearchEndpoint is a keyless HTML search frontend; the model reads
// the returned markup directly.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// NewWebSearchTool creates a web search tool. An empty endpoint selects the
// default.
func NewWebSearchTool(endpoint string, timeoutSecs uint64) *WebSearchTool {
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	if timeoutSecs == 0 {
		timeoutSecs = 30
	}
	return &WebSearchTool{
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
		endpoint:    endpoint,
		timeoutSecs: timeoutSecs,
	}
}

// Metadata returns the tool metadata.
func (t *WebSearchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameWebSearch,
		Description: "Search the web. Returns raw result markup; extract what you need from it.",
		Parameters: []ToolParameter{
			{Name: "query", ParamType: "string", Description: "Search query", Required: true},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

// Validate validates the arguments.
func (t *WebSearchTool) Validate(args json.RawMessage) error {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// Execute performs the search request.
func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Query) == "" {
		return FailureResultf("query cannot be empty"), nil
	}

	reqURL := t.endpoint + "?q=" + url.QueryEscape(a.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResultf("search timed out after %d seconds", t.timeoutSecs), nil
		}
		return FailureResult(fmt.Errorf("search request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	// Cap the body; search pages past this point are navigation chrome
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response: %w", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResultf("search returned %s", resp.Status), nil
	}
	return SuccessResult(string(body)), nil
}

// SemanticSearchTool searches the knowledge graph's chunked content.
type SemanticSearchTool struct {
	BaseTool
	store storage.GraphStore
	limit int
}

// NewSemanticSearchTool creates the tool over the given store. limit caps
// how many chunks one call can return.
func NewSemanticSearchTool(store storage.GraphStore, limit int) *SemanticSearchTool {
	if limit <= 0 {
		limit = 10
	}
	return &SemanticSearchTool{store: store, limit: limit}
}

// Metadata returns the tool metadata.
func (t *SemanticSearchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        NameSemanticSearch,
		Description: "Search the knowledge graph's stored content for relevant passages. Returns matching passages with their entity IDs.",
		Parameters: []ToolParameter{
			{Name: "query", ParamType: "string", Description: "What to look for", Required: true},
		},
	}
}

// Validate validates the arguments.
func (t *SemanticSearchTool) Validate(args json.RawMessage) error {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// Execute searches stored chunks.
func (t *SemanticSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Query) == "" {
		return FailureResultf("query cannot be empty"), nil
	}

	chunks, err := t.store.SearchChunks(ctx, a.Query, t.limit)
	if err != nil {
		return FailureResult(fmt.Errorf("search failed: %w", err)), nil
	}
	if len(chunks) == 0 {
		return SuccessResult("No stored content matched the query."), nil
	}

	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "entity %d: %s\n", c.NodeID, c.Text)
	}
	return SuccessResult(sb.String()), nil
}
