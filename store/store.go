package store

import (
	"context"
	"errors"
	"time"
)

// Limits applied to list queries.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrDuplicateID is returned when a post with the same id (transaction
// hash) was already appended.
var ErrDuplicateID = errors.New("store: duplicate post id")

// Post is one accepted board post. Immutable once written: the store has no
// update or delete path.
type Post struct {
	// ID is the on-chain transaction hash of the accepted proof.
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	// PseudoID is the stringified nullifier, the author's stable per-scope
	// pseudonym.
	PseudoID   string    `json:"pseudoId"`
	Scope      string    `json:"scope"`
	MerkleRoot string    `json:"merkleRoot"`
	Message    string    `json:"message"`
	Content    string    `json:"content"`
	TxHash     string    `json:"txHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ListQuery selects a page of posts from one board, in ascending creation
// order.
type ListQuery struct {
	BoardID string
	// Limit is clamped to [1, MaxListLimit]; zero means DefaultListLimit.
	Limit int
	// PseudoID, when set, restricts the feed to one pseudonymous author.
	PseudoID string
	// After filters to posts created strictly later than this instant.
	// The zero value means no lower bound.
	After time.Time
}

// normalized returns the query with the limit clamp applied.
func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	return q
}

// Page is one page of results. NextCursor is the last item's creation
// timestamp in RFC 3339 nano form, or "" when the page is empty; passing it
// back as After yields strictly later posts.
type Page struct {
	Items      []*Post `json:"items"`
	NextCursor string  `json:"nextCursor"`
}

// Cursor formats a creation timestamp as an opaque pagination cursor.
func Cursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseCursor parses a cursor produced by Cursor.
func ParseCursor(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Store is the append-only post log.
type Store interface {
	// Append inserts a post. A post whose ID already exists fails with
	// ErrDuplicateID.
	Append(ctx context.Context, post *Post) error

	// List returns posts matching q in ascending CreatedAt order.
	List(ctx context.Context, q ListQuery) (*Page, error)

	Close() error
}

func pageOf(items []*Post) *Page {
	page := &Page{Items: items}
	if len(items) > 0 {
		page.NextCursor = Cursor(items[len(items)-1].CreatedAt)
	}
	if page.Items == nil {
		page.Items = []*Post{}
	}
	return page
}
