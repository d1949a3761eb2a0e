// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Set shaping (Without) returns copies, never mutates

package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/weavehq/weave/llm"
)

// Registry manages available tools with dynamic registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a new tool to the registry.
// Returns error if a tool with the same name already exists.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Metadata().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for all registered tools.
func (r *Registry) List() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		metadata = append(metadata, tool.Metadata())
	}
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].Name < metadata[j].Name })
	return metadata
}

// Description returns a formatted description of all tools for LLM prompts.
func (r *Registry) Description() string {
	var descriptions []string
	for _, meta := range r.List() {
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		paramStr := strings.Join(params, "\n")
		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			meta.Name, meta.Description, paramStr))
	}

	return strings.Join(descriptions, "\n\n")
}

// Set returns an immutable view over the registry's current tools.
func (r *Registry) Set() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make(map[string]Tool, len(r.tools))
	for name, tool := range r.tools {
		tools[name] = tool
	}
	return Set{tools: tools}
}

// Set is an immutable collection of tools. Shaping operations return new
// sets; the executor hands each run its own shaped copy.
type Set struct {
	tools map[string]Tool
}

// Without returns a new set lacking the named tools.
func (s Set) Without(names ...string) Set {
	excluded := make(map[string]bool, len(names))
	for _, name := range names {
		excluded[name] = true
	}

	tools := make(map[string]Tool, len(s.tools))
	for name, tool := range s.tools {
		if !excluded[name] {
			tools[name] = tool
		}
	}
	return Set{tools: tools}
}

// Get returns a tool by name.
func (s Set) Get(name string) (Tool, bool) {
	tool, exists := s.tools[name]
	return tool, exists
}

// Has checks if a tool is in the set.
func (s Set) Has(name string) bool {
	_, exists := s.tools[name]
	return exists
}

// Len returns the number of tools in the set.
func (s Set) Len() int {
	return len(s.tools)
}

// Names returns the tool names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions converts the set to LLM tool definitions, sorted by name so
// prompts are stable across runs.
func (s Set) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(s.tools))
	for _, name := range s.Names() {
		defs = append(defs, toDefinition(s.tools[name].Metadata()))
	}
	return defs
}

// toDefinition converts tool metadata to a JSON-schema tool definition.
func toDefinition(meta ToolMetadata) llm.ToolDefinition {
	properties := make(map[string]interface{}, len(meta.Parameters))
	var required []string
	for _, p := range meta.Parameters {
		prop := map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.ParamType == "array" {
			prop["items"] = map[string]interface{}{"type": "string"}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	params := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}

	return llm.ToolDefinition{
		Name:        meta.Name,
		Description: meta.Description,
		Parameters:  params,
	}
}
