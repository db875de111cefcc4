package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client is the relay's capability handle on the deployed contracts.
//
// The verification contract is consumed as a black box: SubmitProof either
// lands a transaction and returns its receipt, or fails with a RevertError
// carrying the contract's reason. Tests substitute MockClient for
// controllable accept/reject/latency behavior.
type Client interface {
	// ChainID returns the id of the connected chain.
	ChainID() *big.Int

	// NFTBalance is a read-only balanceOf query against the gating ERC-721.
	NFTBalance(ctx context.Context, owner common.Address) (*big.Int, error)

	// AddMember adds an identity commitment to the group's Merkle tree via
	// the admin path, using the relayer key. Blocks until one confirmation.
	AddMember(ctx context.Context, identityCommitment *big.Int) (*Receipt, error)

	// SubmitProof forwards a proof bundle unmodified to the verification
	// entry point and blocks until one confirmation.
	SubmitProof(ctx context.Context, bundle *ProofBundle) (*Receipt, error)
}
