// Package capsule assembles the entity context handed to an executor run.
//
// Information Hiding:
// - Reference-vs-directive partition of raw context strings
// - Concurrent node hydration
// - Rendered wire format of the capsule
package capsule

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weavehq/weave/model"
	"github.com/weavehq/weave/storage"
)

// Role describes how an entity relates to the task at hand.
type Role string

const (
	// RolePrimary is the entity the user is actively working in.
	RolePrimary Role = "primary"
	// RoleSecondary is an entity open in the user's workspace.
	RoleSecondary Role = "secondary"
	// RoleReferenced is an entity named only by the task context.
	RoleReferenced Role = "referenced"
)

// maxEntries caps the capsule's total size, entities and passthrough
// together, so a wide workspace cannot flood the prompt.
const maxEntries = 16

// excerptWordLimit bounds each entity's content excerpt.
const excerptWordLimit = 80

// Snapshot is the capsule's view of one entity.
type Snapshot struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Link        string   `json:"link,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
	ChunkStatus string   `json:"chunk_status,omitempty"`
	HasChunks   bool     `json:"has_chunks"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Role        Role     `json:"role"`
}

// FocusState is the ambient workspace state at delegation time: the entity
// the user is in, plus any others open alongside it.
type FocusState struct {
	ActiveID int64
	OpenIDs  []int64
}

// Capsule is the assembled context: hydrated entity snapshots plus the
// non-reference context strings, preserved verbatim and in order.
type Capsule struct {
	Entities    []Snapshot `json:"entities"`
	Passthrough []string   `json:"passthrough,omitempty"`
}

// Builder assembles capsules from the knowledge graph.
type Builder struct {
	store  storage.GraphStore
	logger *zap.Logger
}

// NewBuilder creates a capsule builder. A nil logger means no logging.
func NewBuilder(store storage.GraphStore, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, logger: logger}
}

// Build partitions the raw context strings into entity references and
// passthrough directives, unions the references with the focus entities, and
// hydrates a snapshot for each. Missing entities are skipped, not errors:
// the user may have deleted a node between delegation and execution.
func (b *Builder) Build(ctx context.Context, focus FocusState, raw []string) (*Capsule, error) {
	refs, passthrough := partition(raw)

	roles := map[int64]Role{}
	order := []int64{}
	assign := func(id int64, role Role) {
		if id <= 0 {
			return
		}
		if _, seen := roles[id]; seen {
			return
		}
		roles[id] = role
		order = append(order, id)
	}

	// With no distinguished active entity, the first focus entity stands in
	// as the primary.
	assign(focus.ActiveID, RolePrimary)
	for _, id := range focus.OpenIDs {
		if focus.ActiveID <= 0 && len(roles) == 0 {
			assign(id, RolePrimary)
			continue
		}
		assign(id, RoleSecondary)
	}
	for _, id := range refs {
		assign(id, RoleReferenced)
	}

	if len(order) > maxEntries {
		order = order[:maxEntries]
	}

	snapshots := make([]*Snapshot, len(order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range order {
		g.Go(func() error {
			node, err := b.store.GetNode(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to hydrate entity %d: %w", id, err)
			}
			if node == nil {
				b.logger.Debug("skipping missing entity", zap.Int64("entity_id", id))
				return nil
			}
			snap := snapshotOf(*node, roles[id])
			mu.Lock()
			snapshots[i] = &snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	capsule := &Capsule{Entities: []Snapshot{}}
	for _, snap := range snapshots {
		if snap != nil {
			capsule.Entities = append(capsule.Entities, *snap)
		}
	}

	// Passthrough shares the entry budget with the entities.
	room := maxEntries - len(capsule.Entities)
	if room < 0 {
		room = 0
	}
	if len(passthrough) > room {
		passthrough = passthrough[:room]
	}
	capsule.Passthrough = passthrough
	return capsule, nil
}

// partition splits raw context strings into entity IDs and passthrough
// directives. A string is a reference only if it is, in its entirety, a
// positive integer.
func partition(raw []string) ([]int64, []string) {
	refs := []int64{}
	passthrough := []string{}
	for _, s := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err == nil && id > 0 {
			refs = append(refs, id)
			continue
		}
		passthrough = append(passthrough, s)
	}
	return refs, passthrough
}

func snapshotOf(n model.Node, role Role) Snapshot {
	return Snapshot{
		ID:          n.ID,
		Title:       n.Title,
		Link:        n.Link,
		Dimensions:  n.Dimensions,
		ChunkStatus: n.ChunkStatus,
		HasChunks:   n.HasChunks(),
		Excerpt:     excerpt(n),
		Role:        role,
	}
}

// excerpt prefers the curated summary over raw content and clips to the
// word limit.
func excerpt(n model.Node) string {
	text := n.Summary
	if text == "" {
		text = n.Content
	}
	words := strings.Fields(text)
	if len(words) <= excerptWordLimit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:excerptWordLimit], " ") + "…"
}

// Render produces the prompt block: a machine-readable JSON section, a human
// directive line per entity, and a ground-truth instruction footer. An empty
// capsule renders to the empty string.
func (c *Capsule) Render() string {
	if len(c.Entities) == 0 && len(c.Passthrough) == 0 {
		return ""
	}

	var sb strings.Builder

	if len(c.Entities) > 0 {
		data, err := json.MarshalIndent(c.Entities, "", "  ")
		if err == nil {
			sb.WriteString("=== WORKSPACE ENTITIES (JSON) ===\n")
			sb.Write(data)
			sb.WriteString("\n\n")
		}

		for _, e := range c.Entities {
			sb.WriteString(directiveFor(e))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")

		sb.WriteString("=== GROUND TRUTH ===\n")
		sb.WriteString("The entity data above is authoritative. Use the listed IDs when reading or writing entities; never invent IDs. ")
		sb.WriteString("Where an entity has chunked content, fetch chunks before drawing conclusions from the excerpt alone. ")
		sb.WriteString("Record every entity ID you used in your final summary.\n")
	}

	if len(c.Passthrough) > 0 {
		sb.WriteString("\n=== ADDITIONAL CONTEXT ===\n")
		for _, p := range c.Passthrough {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func directiveFor(e Snapshot) string {
	var sb strings.Builder
	switch e.Role {
	case RolePrimary:
		fmt.Fprintf(&sb, "Entity %d (%q) is the user's current focus; treat it as the default subject of the task.", e.ID, e.Title)
	case RoleSecondary:
		fmt.Fprintf(&sb, "Entity %d (%q) is open in the workspace and likely relevant.", e.ID, e.Title)
	default:
		fmt.Fprintf(&sb, "Entity %d (%q) was referenced by the task.", e.ID, e.Title)
	}
	if e.HasChunks {
		fmt.Fprintf(&sb, " Full content is chunked; use get_chunks with entity ID %d for detail.", e.ID)
	}
	return sb.String()
}
