// Repeated-call detection.
//
// Information Hiding:
// - Signature normalization rules
// - Entity-pair extraction for delegation short-circuiting

package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// callCache remembers tool results by normalized call signature so an
// identical repeat replays the earlier result instead of re-running the
// tool. Normalization is aggressive on purpose: models rephrase the same
// call with different casing and spacing.
type callCache struct {
	entries map[string]string
}

func newCallCache() *callCache {
	return &callCache{entries: make(map[string]string)}
}

// lookup returns the cached output for a call, if any.
func (c *callCache) lookup(name string, args json.RawMessage) (string, bool) {
	out, ok := c.entries[callSignature(name, args)]
	return out, ok
}

// remember stores a call's output.
func (c *callCache) remember(name string, args json.RawMessage, output string) {
	c.entries[callSignature(name, args)] = output
}

// callSignature builds a stable key: tool name plus the arguments with every
// string value lowercased and whitespace-collapsed, keys sorted.
func callSignature(name string, args json.RawMessage) string {
	var parsed interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return name + "|" + normalizeString(string(args))
	}
	return name + "|" + canonicalize(normalizeValue(parsed))
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return normalizeString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func normalizeString(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// canonicalize renders a normalized value deterministically (sorted keys).
func canonicalize(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%s", k, canonicalize(val[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, inner := range val {
			parts = append(parts, canonicalize(inner))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// edgePairKey extracts the directed entity pair a delegation is about: the
// first two distinct positive integers found in the task and context, in
// order, keyed "a->b". Empty when fewer than two entities are named.
// Repeated delegation on the same pair is the classic runaway loop of a
// planner re-linking the same two entities forever.
func edgePairKey(task string, taskContext []string) string {
	text := task + " " + strings.Join(taskContext, " ")

	var first, second int64
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		n, err := strconv.ParseInt(current.String(), 10, 64)
		current.Reset()
		if err != nil || n <= 0 {
			return
		}
		if first == 0 {
			first = n
			return
		}
		if second == 0 && n != first {
			second = n
		}
	}

	for _, r := range text {
		if r >= '0' && r <= '9' {
			current.WriteRune(r)
			continue
		}
		flush()
		if second != 0 {
			break
		}
	}
	flush()

	if first == 0 || second == 0 {
		return ""
	}
	return fmt.Sprintf("%d->%d", first, second)
}
