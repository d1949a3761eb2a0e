// Package model contains the shared data types of the delegation core.
package model

import "time"

// Status is the lifecycle state of a delegation. Transitions are monotonic:
// queued -> in_progress -> {completed|failed}. A record never leaves a
// terminal state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AgentType tags which class of executor produced or consumes a delegation.
type AgentType string

const (
	// AgentWorker is the lightweight single-task executor.
	AgentWorker AgentType = "worker"
	// AgentPlanner is the heavier workflow-driving executor.
	AgentPlanner AgentType = "planner"
)

// Delegation is one unit of agent work, tracked end-to-end by the ledger.
// SessionID is the external handle correlating the record, its executor run,
// and its broadcast channel. Summary is only non-empty in a terminal state.
type Delegation struct {
	SessionID       string    `json:"session_id"`
	Task            string    `json:"task"`
	Context         []string  `json:"context"`
	ExpectedOutcome string    `json:"expected_outcome,omitempty"`
	Status          Status    `json:"status"`
	Summary         string    `json:"summary,omitempty"`
	AgentType       AgentType `json:"agent_type"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Usage is the cumulative token spend of one executor run, handed to an
// accounting collaborator when the run finalizes.
type Usage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
	LLMCalls         int
}

// Node is a knowledge-graph entity as hydrated from the store.
type Node struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link,omitempty"`
	Dimensions  []string  `json:"dimensions,omitempty"`
	Content     string    `json:"content,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	ChunkStatus string    `json:"chunk_status,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasChunks reports whether richer chunked content exists for the node.
func (n Node) HasChunks() bool {
	return n.ChunkCount > 0
}

// Edge is a directed relation between two nodes.
type Edge struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	TargetID  int64     `json:"target_id"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one extracted content segment of a node.
type Chunk struct {
	ID      int64  `json:"id"`
	NodeID  int64  `json:"node_id"`
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}
