package board

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// SaltLength is the fixed byte length of a board salt.
const SaltLength = 32

// Board describes a single anonymity board: its identifier, the immutable
// salt baked into the deployed contract, and the length of one posting epoch.
type Board struct {
	ID          string
	Salt        [SaltLength]byte
	EpochLength time.Duration
}

// New validates the board parameters and returns a Board.
// The epoch length must be a positive whole number of seconds.
func New(id string, salt [SaltLength]byte, epochLength time.Duration) (*Board, error) {
	if id == "" {
		return nil, errors.New("board id cannot be empty")
	}
	if epochLength < time.Second {
		return nil, fmt.Errorf("epoch length must be at least one second, got %s", epochLength)
	}
	if epochLength%time.Second != 0 {
		return nil, fmt.Errorf("epoch length must be a whole number of seconds, got %s", epochLength)
	}
	return &Board{ID: id, Salt: salt, EpochLength: epochLength}, nil
}

// EpochAt returns the epoch index containing t: floor(unix(t) / epochLength).
// Epochs are monotonic non-decreasing as time advances.
func (b *Board) EpochAt(t time.Time) uint64 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec) / uint64(b.EpochLength/time.Second)
}

// ScopeAt returns the scope for the epoch containing t.
func (b *Board) ScopeAt(t time.Time) *big.Int {
	return DeriveScope(b.Salt, b.EpochAt(t))
}

// ParseSalt decodes a 0x-prefixed or bare hex string into a board salt.
func ParseSalt(s string) ([SaltLength]byte, error) {
	var salt [SaltLength]byte
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return salt, fmt.Errorf("invalid salt hex: %w", err)
	}
	if len(raw) != SaltLength {
		return salt, fmt.Errorf("salt must be %d bytes, got %d", SaltLength, len(raw))
	}
	copy(salt[:], raw)
	return salt, nil
}
