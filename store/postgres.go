package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore opens the database, verifies connectivity, and runs
// migrations.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
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
		created_at TIMESTAMPTZ NOT NULL
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
func (s *PostgresStore) Append(ctx context.Context, post *Post) error {
	query := `
	INSERT INTO posts (id, board_id, pseudo_id, scope, merkle_root, message, content, tx_hash, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
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
		post.CreatedAt.UTC(),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateID
	}
	return err
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.normalized()

	query := `SELECT id, board_id, pseudo_id, scope, merkle_root, message, content, tx_hash, created_at
		FROM posts WHERE board_id = $1`
	args := []any{q.BoardID}

	if q.PseudoID != "" {
		args = append(args, q.PseudoID)
		query += fmt.Sprintf(" AND pseudo_id = $%d", len(args))
	}
	if !q.After.IsZero() {
		args = append(args, q.After.UTC())
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.BoardID, &p.PseudoID, &p.Scope, &p.MerkleRoot,
			&p.Message, &p.Content, &p.TxHash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		items = append(items, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pageOf(items), nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
