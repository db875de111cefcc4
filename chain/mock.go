package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Revert reasons emitted by the mock, mirroring the deployed contract.
const (
	RevertNullifierUsed   = "nullifier already used for this scope"
	RevertDuplicateMember = "identity commitment already a member"
	RevertInvalidProof    = "invalid proof"
)

// MockClient is an in-memory Client for tests. It emulates the contract's
// observable behavior: NFT balances, duplicate-member rejection, and
// per-scope nullifier reuse rejection. Latency and failures are injectable.
type MockClient struct {
	mu sync.Mutex

	chainID        *big.Int
	balances       map[common.Address]int64
	members        map[string]bool
	usedNullifiers map[string]bool
	txCounter      uint64
	blockNumber    uint64

	// SubmitDelay simulates confirmation latency on every write.
	SubmitDelay time.Duration

	// Error injection. When set, the corresponding call fails with the
	// given error instead of touching mock state.
	NFTBalanceErr error
	SubmitErr     error

	// RejectProofs makes every SubmitProof revert with RevertInvalidProof.
	RejectProofs bool
}

// NewMockClient returns an empty mock on the given chain id.
func NewMockClient(chainID int64) *MockClient {
	return &MockClient{
		chainID:        big.NewInt(chainID),
		balances:       make(map[common.Address]int64),
		members:        make(map[string]bool),
		usedNullifiers: make(map[string]bool),
	}
}

// Mint credits one gating token to addr.
func (m *MockClient) Mint(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr]++
}

// IsMember reports whether a commitment has been added to the group.
func (m *MockClient) IsMember(identityCommitment *big.Int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[identityCommitment.String()]
}

// ChainID implements Client.
func (m *MockClient) ChainID() *big.Int {
	return new(big.Int).Set(m.chainID)
}

// NFTBalance implements Client.
func (m *MockClient) NFTBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if m.NFTBalanceErr != nil {
		return nil, m.NFTBalanceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return big.NewInt(m.balances[owner]), nil
}

// AddMember implements Client. A commitment can be added once.
func (m *MockClient) AddMember(ctx context.Context, identityCommitment *big.Int) (*Receipt, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityCommitment.String()
	if m.members[key] {
		return nil, &RevertError{Reason: RevertDuplicateMember}
	}
	m.members[key] = true
	return m.receiptLocked(), nil
}

// SubmitProof implements Client. The (scope, nullifier) pair is single-use,
// which is the contract's anti-replay mechanism.
func (m *MockClient) SubmitProof(ctx context.Context, bundle *ProofBundle) (*Receipt, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	if m.RejectProofs {
		return nil, &RevertError{Reason: RevertInvalidProof}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := bundle.Scope.String() + "|" + bundle.Nullifier.String()
	if m.usedNullifiers[key] {
		return nil, &RevertError{Reason: RevertNullifierUsed}
	}
	m.usedNullifiers[key] = true
	return m.receiptLocked(), nil
}

func (m *MockClient) wait(ctx context.Context) error {
	if m.SubmitDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.SubmitDelay):
		return nil
	}
}

// receiptLocked mints a deterministic tx hash. Caller holds m.mu.
func (m *MockClient) receiptLocked() *Receipt {
	m.txCounter++
	m.blockNumber++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], m.txCounter)
	return &Receipt{
		TxHash:      common.BytesToHash(ethcrypto.Keccak256(seed[:])),
		BlockNumber: m.blockNumber,
	}
}
