package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. Suited for
// single-process deployments, which is also the relay's normal shape.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs
// migrations. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		pseudo_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		merkle_root TEXT NOT NULL,
		message TEXT NOT NULL,
		content TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_board_created ON posts(board_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_posts_board_pseudo ON posts(board_id, pseudo_id, created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, post *Post) error {
	query := `
	INSERT INTO posts (id, board_id, pseudo_id, scope, merkle_root, message, content, tx_hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		post.ID,
		post.BoardID,
		post.PseudoID,
		post.Scope,
		post.MerkleRoot,
		post.Message,
		post.Content,
		post.TxHash,
		post.CreatedAt.UTC().UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateID
	}
	return err
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.normalized()

	query := `SELECT id, board_id, pseudo_id, scope, merkle_root, message, content, tx_hash, created_at
		FROM posts WHERE board_id = ?`
	args := []any{q.BoardID}

	if q.PseudoID != "" {
		query += " AND pseudo_id = ?"
		args = append(args, q.PseudoID)
	}
	if !q.After.IsZero() {
		query += " AND created_at > ?"
		args = append(args, q.After.UTC().UnixNano())
	}
	query += " ORDER BY created_at ASC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Post
	for rows.Next() {
		var p Post
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.BoardID, &p.PseudoID, &p.Scope, &p.MerkleRoot,
			&p.Message, &p.Content, &p.TxHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pageOf(items), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
