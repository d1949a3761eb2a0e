// Package storage provides SQLite persistence for the delegation core.
//
// Information Hiding:
// - SQLite connection management hidden behind interfaces
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weavehq/weave/model"
)

// SqliteStorage implements DelegationStore and GraphStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS delegations (
			session_id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '[]',
			expected_outcome TEXT,
			status TEXT NOT NULL,
			summary TEXT,
			agent_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_delegations_status
		ON delegations(status, updated_at);

		CREATE INDEX IF NOT EXISTS idx_delegations_created
		ON delegations(created_at DESC);

		CREATE TABLE IF NOT EXISTS nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			link TEXT,
			dimensions TEXT NOT NULL DEFAULT '[]',
			content TEXT,
			summary TEXT,
			chunk_status TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			relation TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE,
			UNIQUE(source_id, target_id, relation)
		);

		CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL,
			ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
			UNIQUE(node_id, ordinal)
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_node ON chunks(node_id, ordinal);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DelegationStore implementation

// InsertDelegation creates a new delegation row.
func (s *SqliteStorage) InsertDelegation(ctx context.Context, d model.Delegation) error {
	contextJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	var outcome interface{}
	if d.ExpectedOutcome != "" {
		outcome = d.ExpectedOutcome
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegations
		(session_id, task, context, expected_outcome, status, agent_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID,
		d.Task,
		string(contextJSON),
		outcome,
		string(d.Status),
		string(d.AgentType),
		d.CreatedAt.Unix(),
		d.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert delegation: %w", err)
	}
	return nil
}

// GetDelegation fetches one delegation, or (nil, nil) if absent.
func (s *SqliteStorage) GetDelegation(ctx context.Context, sessionID string) (*model.Delegation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, task, context, expected_outcome, status, summary, agent_type, created_at, updated_at
		FROM delegations WHERE session_id = ?`,
		sessionID)

	d, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return d, nil
}

// TransitionStatus atomically moves a row from one status to another.
func (s *SqliteStorage) TransitionStatus(ctx context.Context, sessionID string, from, to model.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE delegations SET status = ?, updated_at = ? WHERE session_id = ? AND status = ?",
		string(to), time.Now().Unix(), sessionID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// TouchDelegation refreshes updatedAt only while the row is in_progress.
func (s *SqliteStorage) TouchDelegation(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE delegations SET updated_at = ? WHERE session_id = ? AND status = ?",
		time.Now().Unix(), sessionID, string(model.StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("failed to touch delegation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// SetTerminal moves a row to a terminal status with a summary.
func (s *SqliteStorage) SetTerminal(ctx context.Context, sessionID string, status model.Status, summary string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE delegations SET status = ?, summary = ?, updated_at = ?
		WHERE session_id = ? AND status IN (?, ?)`,
		string(status), summary, time.Now().Unix(),
		sessionID, string(model.StatusQueued), string(model.StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("failed to set terminal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListRecentDelegations returns rows ordered by creation time, newest first.
func (s *SqliteStorage) ListRecentDelegations(ctx context.Context, limit int) ([]model.Delegation, error) {
	return s.queryDelegations(ctx, `
		SELECT session_id, task, context, expected_outcome, status, summary, agent_type, created_at, updated_at
		FROM delegations
		ORDER BY created_at DESC
		LIMIT ?`, limit)
}

// ListActiveDelegations returns queued/in_progress rows, newest first.
func (s *SqliteStorage) ListActiveDelegations(ctx context.Context, includeCompleted bool, limit int) ([]model.Delegation, error) {
	if includeCompleted {
		return s.ListRecentDelegations(ctx, limit)
	}
	return s.queryDelegations(ctx, `
		SELECT session_id, task, context, expected_outcome, status, summary, agent_type, created_at, updated_at
		FROM delegations
		WHERE status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		string(model.StatusQueued), string(model.StatusInProgress), limit)
}

// FindStaleInProgress returns session IDs of in_progress rows older than the cutoff.
func (s *SqliteStorage) FindStaleInProgress(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM delegations WHERE status = ? AND updated_at < ?",
		string(model.StatusInProgress), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale delegations: %w", err)
	}
	defer rows.Close()

	sessions := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale delegations: %w", err)
	}

	return sessions, nil
}

// DeleteDelegation removes a row.
func (s *SqliteStorage) DeleteDelegation(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM delegations WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete delegation: %w", err)
	}
	return nil
}

func (s *SqliteStorage) queryDelegations(ctx context.Context, query string, args ...interface{}) ([]model.Delegation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}
	defer rows.Close()

	delegations := []model.Delegation{}
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delegations: %w", err)
	}

	return delegations, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelegation(row rowScanner) (*model.Delegation, error) {
	var d model.Delegation
	var contextJSON string
	var outcome, summary sql.NullString
	var createdAt, updatedAt int64
	var status, agentType string

	err := row.Scan(
		&d.SessionID,
		&d.Task,
		&contextJSON,
		&outcome,
		&status,
		&summary,
		&agentType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
		return nil, fmt.Errorf("invalid context JSON for session %q: %w", d.SessionID, err)
	}

	if outcome.Valid {
		d.ExpectedOutcome = outcome.String
	}
	if summary.Valid {
		d.Summary = summary.String
	}
	d.Status = model.Status(status)
	if !d.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q for session %q", status, d.SessionID)
	}
	d.AgentType = model.AgentType(agentType)
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &d, nil
}

// GraphStore implementation

// GetNode fetches one node, or (nil, nil) if absent.
func (s *SqliteStorage) GetNode(ctx context.Context, id int64) (*model.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT n.id, n.title, n.link, n.dimensions, n.content, n.summary, n.chunk_status,
		       (SELECT COUNT(*) FROM chunks c WHERE c.node_id = n.id),
		       n.created_at, n.updated_at
		FROM nodes n WHERE n.id = ?`,
		id)

	var n model.Node
	var link, content, summary, chunkStatus sql.NullString
	var dimensionsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&n.ID,
		&n.Title,
		&link,
		&dimensionsJSON,
		&content,
		&summary,
		&chunkStatus,
		&n.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	if err := json.Unmarshal([]byte(dimensionsJSON), &n.Dimensions); err != nil {
		return nil, fmt.Errorf("invalid dimensions JSON for node %d: %w", n.ID, err)
	}
	if link.Valid {
		n.Link = link.String
	}
	if content.Valid {
		n.Content = content.String
	}
	if summary.Valid {
		n.Summary = summary.String
	}
	if chunkStatus.Valid {
		n.ChunkStatus = chunkStatus.String
	}
	n.CreatedAt = time.Unix(createdAt, 0).UTC()
	n.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &n, nil
}

// CreateNode inserts a node and returns it with its assigned ID.
func (s *SqliteStorage) CreateNode(ctx context.Context, title, link string, dimensions []string, content string) (*model.Node, error) {
	if dimensions == nil {
		dimensions = []string{}
	}
	dimensionsJSON, err := json.Marshal(dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dimensions: %w", err)
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (title, link, dimensions, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		title, nullableString(link), string(dimensionsJSON), nullableString(content), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert node: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read node id: %w", err)
	}

	return s.GetNode(ctx, id)
}

// UpdateNode applies the non-nil fields of the update.
func (s *SqliteStorage) UpdateNode(ctx context.Context, id int64, update NodeUpdate) (bool, error) {
	set := "updated_at = ?"
	args := []interface{}{time.Now().Unix()}

	if update.Title != nil {
		set += ", title = ?"
		args = append(args, *update.Title)
	}
	if update.Link != nil {
		set += ", link = ?"
		args = append(args, *update.Link)
	}
	if update.Dimensions != nil {
		dimensionsJSON, err := json.Marshal(*update.Dimensions)
		if err != nil {
			return false, fmt.Errorf("failed to encode dimensions: %w", err)
		}
		set += ", dimensions = ?"
		args = append(args, string(dimensionsJSON))
	}
	if update.Content != nil {
		set += ", content = ?"
		args = append(args, *update.Content)
	}
	if update.Summary != nil {
		set += ", summary = ?"
		args = append(args, *update.Summary)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE nodes SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("failed to update node: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// CreateEdge inserts a directed edge between two existing nodes.
func (s *SqliteStorage) CreateEdge(ctx context.Context, sourceID, targetID int64, relation string) (*model.Edge, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (source_id, target_id, relation, created_at)
		VALUES (?, ?, ?, ?)`,
		sourceID, targetID, relation, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert edge: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read edge id: %w", err)
	}

	return &model.Edge{
		ID:        id,
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  relation,
		CreatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// ListEdges returns edges touching the node in either direction.
func (s *SqliteStorage) ListEdges(ctx context.Context, nodeID int64) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation, created_at
		FROM edges
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at ASC`,
		nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	edges := []model.Edge{}
	for rows.Next() {
		var e model.Edge
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return edges, nil
}

// GetChunks returns a node's content chunks in ordinal order.
func (s *SqliteStorage) GetChunks(ctx context.Context, nodeID int64, limit int) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, ordinal, text
		FROM chunks
		WHERE node_id = ?
		ORDER BY ordinal ASC
		LIMIT ?`,
		nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SearchChunks returns chunks whose text matches the query, best-first.
// Matching is a case-insensitive substring scan; ranking favors shorter
// chunks, which tend to be denser matches.
func (s *SqliteStorage) SearchChunks(ctx context.Context, query string, limit int) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, ordinal, text
		FROM chunks
		WHERE text LIKE '%' || ? || '%'
		ORDER BY LENGTH(text) ASC
		LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// InsertChunks replaces a node's chunks with the given texts.
func (s *SqliteStorage) InsertChunks(ctx context.Context, nodeID int64, texts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE node_id = ?", nodeID); err != nil {
		return fmt.Errorf("failed to clear old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (node_id, ordinal, text) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		if _, err := stmt.ExecContext(ctx, nodeID, i, text); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE nodes SET chunk_status = 'ready', updated_at = ? WHERE id = ?",
		time.Now().Unix(), nodeID); err != nil {
		return fmt.Errorf("failed to update chunk status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanChunks(rows *sql.Rows) ([]model.Chunk, error) {
	chunks := []model.Chunk{}
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.NodeID, &c.Ordinal, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Verify SqliteStorage implements all interfaces
var _ DelegationStore = (*SqliteStorage)(nil)
var _ GraphStore = (*SqliteStorage)(nil)
