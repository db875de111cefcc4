package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The same behavioral suite runs against every backend that can be opened
// without external infrastructure. Postgres shares the SQL shape with
// SQLite and is exercised in deployments.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func post(id string, board, pseudo string, at time.Time) *Post {
	return &Post{
		ID:         id,
		BoardID:    board,
		PseudoID:   pseudo,
		Scope:      "123",
		MerkleRoot: "456",
		Message:    "789",
		Content:    "content " + id,
		TxHash:     id,
		CreatedAt:  at,
	}
}

func TestAppendAndListOrdering(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			// insert out of order; listing must come back ascending
			require.NoError(t, s.Append(ctx, post("0xc", "default", "p1", base.Add(3*time.Second))))
			require.NoError(t, s.Append(ctx, post("0xa", "default", "p1", base.Add(1*time.Second))))
			require.NoError(t, s.Append(ctx, post("0xb", "default", "p2", base.Add(2*time.Second))))

			page, err := s.List(ctx, ListQuery{BoardID: "default", Limit: 20})
			require.NoError(t, err)
			require.Len(t, page.Items, 3)
			require.Equal(t, "0xa", page.Items[0].ID)
			require.Equal(t, "0xb", page.Items[1].ID)
			require.Equal(t, "0xc", page.Items[2].ID)
		})
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.Append(ctx, post("0xdup", "default", "p1", at)))
			err := s.Append(ctx, post("0xdup", "default", "p1", at.Add(time.Second)))
			require.ErrorIs(t, err, ErrDuplicateID)
		})
	}
}

func TestCursorPagination(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			for i := 0; i < 45; i++ {
				p := post(fmt.Sprintf("0x%03d", i), "default", "p1", base.Add(time.Duration(i)*time.Second))
				require.NoError(t, s.Append(ctx, p))
			}

			page, err := s.List(ctx, ListQuery{BoardID: "default", Limit: 20})
			require.NoError(t, err)
			require.Len(t, page.Items, 20)
			require.NotEmpty(t, page.NextCursor)

			after, err := ParseCursor(page.NextCursor)
			require.NoError(t, err)

			// second page holds only strictly later items
			page2, err := s.List(ctx, ListQuery{BoardID: "default", Limit: 20, After: after})
			require.NoError(t, err)
			require.Len(t, page2.Items, 20)
			require.True(t, page2.Items[0].CreatedAt.After(after))
			require.Equal(t, "0x020", page2.Items[0].ID)

			after2, err := ParseCursor(page2.NextCursor)
			require.NoError(t, err)
			page3, err := s.List(ctx, ListQuery{BoardID: "default", Limit: 20, After: after2})
			require.NoError(t, err)
			require.Len(t, page3.Items, 5)
		})
	}
}

func TestPseudoIDFilter(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.Append(ctx, post("0x1", "default", "alice-pseudo", base)))
			require.NoError(t, s.Append(ctx, post("0x2", "default", "bob-pseudo", base.Add(time.Second))))
			require.NoError(t, s.Append(ctx, post("0x3", "default", "alice-pseudo", base.Add(2*time.Second))))

			page, err := s.List(ctx, ListQuery{BoardID: "default", PseudoID: "alice-pseudo"})
			require.NoError(t, err)
			require.Len(t, page.Items, 2)
			for _, p := range page.Items {
				require.Equal(t, "alice-pseudo", p.PseudoID)
			}
		})
	}
}

func TestBoardIsolation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.Append(ctx, post("0x1", "boardA", "p", at)))
			require.NoError(t, s.Append(ctx, post("0x2", "boardB", "p", at.Add(time.Second))))

			page, err := s.List(ctx, ListQuery{BoardID: "boardA"})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			require.Equal(t, "0x1", page.Items[0].ID)
		})
	}
}

func TestLimitClamp(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			for i := 0; i < 130; i++ {
				p := post(fmt.Sprintf("0x%03d", i), "default", "p", base.Add(time.Duration(i)*time.Second))
				require.NoError(t, s.Append(ctx, p))
			}

			// zero limit falls back to the default
			page, err := s.List(ctx, ListQuery{BoardID: "default"})
			require.NoError(t, err)
			require.Len(t, page.Items, DefaultListLimit)

			// oversized limit is clamped
			page, err = s.List(ctx, ListQuery{BoardID: "default", Limit: 1000})
			require.NoError(t, err)
			require.Len(t, page.Items, MaxListLimit)
		})
	}
}

func TestEmptyPage(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			page, err := s.List(context.Background(), ListQuery{BoardID: "nothing-here"})
			require.NoError(t, err)
			require.Empty(t, page.Items)
			require.Empty(t, page.NextCursor)
		})
	}
}
