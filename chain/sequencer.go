package chain

import (
	"context"
	"sync"
)

// Sequencer serializes transaction broadcast for the single relayer
// account. Two concurrent submissions that both read the same "next nonce"
// would conflict at the node, so the read-nonce/broadcast/increment cycle
// runs under one mutex. Waiting for a receipt happens outside the critical
// section; only the minimal window needed to commit a nonce is locked.
//
// One Sequencer instance owns one account. Multiple relay processes sharing
// a key must instead coordinate through a single-writer process; that is a
// deployment constraint, not something this type can enforce.
type Sequencer struct {
	mu     sync.Mutex
	next   uint64
	synced bool
}

// NewSequencer returns a sequencer that will fetch its starting nonce on
// first use.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Submit reserves the next nonce and invokes send with it. If send fails
// the nonce is not advanced and the cached value is discarded, forcing a
// pending-nonce refetch on the next submission: the failed broadcast may or
// may not have reached the node's mempool.
func (s *Sequencer) Submit(ctx context.Context, pendingNonce func(context.Context) (uint64, error), send func(nonce uint64) error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		n, err := pendingNonce(ctx)
		if err != nil {
			return 0, err
		}
		s.next = n
		s.synced = true
	}

	nonce := s.next
	if err := send(nonce); err != nil {
		s.synced = false
		return 0, err
	}
	s.next++
	return nonce, nil
}
