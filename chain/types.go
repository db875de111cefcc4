package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProofPoints is the fixed number of curve points in a proof bundle.
const ProofPoints = 8

// ProofBundle is the opaque zero-knowledge proof payload forwarded to the
// verification contract. The relay never interprets or recomputes any of
// these fields; it only checks their shape and passes them through.
type ProofBundle struct {
	MerkleTreeDepth *big.Int
	MerkleTreeRoot  *big.Int
	Nullifier       *big.Int
	Message         *big.Int
	Scope           *big.Int
	Points          [ProofPoints]*big.Int
}

// Validate checks that every field is present and non-negative.
func (p *ProofBundle) Validate() error {
	if p == nil {
		return errors.New("proof bundle is nil")
	}
	fields := map[string]*big.Int{
		"merkleTreeDepth": p.MerkleTreeDepth,
		"merkleTreeRoot":  p.MerkleTreeRoot,
		"nullifier":       p.Nullifier,
		"message":         p.Message,
		"scope":           p.Scope,
	}
	for name, v := range fields {
		if v == nil {
			return fmt.Errorf("proof field %s is missing", name)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("proof field %s is negative", name)
		}
	}
	for i, pt := range p.Points {
		if pt == nil {
			return fmt.Errorf("proof point %d is missing", i)
		}
	}
	return nil
}

// Receipt reports an included transaction. Inclusion means at least one
// confirmation; it is not finality.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// RevertError is a contract-level rejection: the transaction (or its gas
// estimation) reverted with the given reason. Reverts are permanent for the
// submitted payload and must not be retried blindly.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "contract reverted: " + e.Reason
}

// AsRevert unwraps err into a RevertError if it is one.
func AsRevert(err error) (*RevertError, bool) {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert, true
	}
	return nil, false
}
