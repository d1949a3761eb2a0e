// Knowledge-graph persistence interface.

package storage

import (
	"context"

	"github.com/weavehq/weave/model"
)

// NodeUpdate carries the optional fields of a node update. Nil fields are
// left untouched.
type NodeUpdate struct {
	Title      *string
	Link       *string
	Dimensions *[]string
	Content    *string
	Summary    *string
}

// GraphStore persists knowledge-graph nodes, edges, and content chunks.
// The capsule builder hydrates from it; the graph tools mutate through it.
type GraphStore interface {
	// GetNode fetches one node, or (nil, nil) if absent.
	GetNode(ctx context.Context, id int64) (*model.Node, error)

	// CreateNode inserts a node and returns it with its assigned ID.
	CreateNode(ctx context.Context, title, link string, dimensions []string, content string) (*model.Node, error)

	// UpdateNode applies the non-nil fields of the update. Returns false if
	// the node is absent.
	UpdateNode(ctx context.Context, id int64, update NodeUpdate) (bool, error)

	// CreateEdge inserts a directed edge between two existing nodes.
	CreateEdge(ctx context.Context, sourceID, targetID int64, relation string) (*model.Edge, error)

	// ListEdges returns edges touching the node (either direction).
	ListEdges(ctx context.Context, nodeID int64) ([]model.Edge, error)

	// GetChunks returns a node's content chunks in ordinal order.
	GetChunks(ctx context.Context, nodeID int64, limit int) ([]model.Chunk, error)

	// SearchChunks returns chunks whose text matches the query, best-first.
	SearchChunks(ctx context.Context, query string, limit int) ([]model.Chunk, error)
}
