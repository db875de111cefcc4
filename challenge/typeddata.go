package challenge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainVersion = "1"
	primaryType   = "Join"
)

// TypedData builds the EIP-712 structure a client must sign for the given
// challenge fields. Exported so integration tests and client tooling can
// produce signatures with the exact bytes the relay verifies.
//
// The struct encoding hashes the type string together with every field, so
// no two distinct (groupId, identityCommitment) pairs can collide on the
// same signable bytes.
func (i *Issuer) TypedData(identityCommitment *big.Int, nonce [32]byte, expiresAt int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: []apitypes.Type{
				{Name: "groupId", Type: "uint256"},
				{Name: "identityCommitment", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
				{Name: "expiresAt", Type: "uint256"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              i.cfg.DomainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(i.cfg.ChainID.Int64()),
			VerifyingContract: i.cfg.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"groupId":            i.cfg.GroupID.String(),
			"identityCommitment": identityCommitment.String(),
			"nonce":              hexutil.Encode(nonce[:]),
			"expiresAt":          new(big.Int).SetInt64(expiresAt).String(),
		},
	}
}

// TypedDataFor rebuilds the signable structure from a challenge as a
// client received it over the wire. Signing its hash yields exactly the
// bytes the issuer verifies.
func TypedDataFor(ch *Challenge) (apitypes.TypedData, error) {
	groupID, ok := new(big.Int).SetString(ch.GroupID, 10)
	if !ok {
		return apitypes.TypedData{}, ErrBadCommitment
	}
	commitment, ok := new(big.Int).SetString(ch.IdentityCommitment, 10)
	if !ok {
		return apitypes.TypedData{}, ErrBadCommitment
	}
	nonce, err := hexutil.Decode(ch.Nonce)
	if err != nil || len(nonce) != 32 {
		return apitypes.TypedData{}, ErrUnknownNonce
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: []apitypes.Type{
				{Name: "groupId", Type: "uint256"},
				{Name: "identityCommitment", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
				{Name: "expiresAt", Type: "uint256"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              ch.Domain.Name,
			Version:           ch.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(ch.Domain.ChainID),
			VerifyingContract: ch.Domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"groupId":            groupID.String(),
			"identityCommitment": commitment.String(),
			"nonce":              hexutil.Encode(nonce),
			"expiresAt":          new(big.Int).SetInt64(ch.ExpiresAt).String(),
		},
	}, nil
}

// digest returns the EIP-712 hash clients sign.
func (i *Issuer) digest(identityCommitment *big.Int, nonce [32]byte, expiresAt int64) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(i.TypedData(identityCommitment, nonce, expiresAt))
	return hash, err
}
