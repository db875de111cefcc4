package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tomosaigon/disphorea/chain"
	"github.com/tomosaigon/disphorea/challenge"
	"github.com/tomosaigon/disphorea/metrics"
)

// MembershipRelay verifies the challenge handshake and relays group joins
// on-chain through the admin path.
type MembershipRelay struct {
	issuer *challenge.Issuer
	chain  chain.Client
	log    *slog.Logger
}

// NewMembershipRelay wires the issuer and chain client together.
func NewMembershipRelay(issuer *challenge.Issuer, client chain.Client, log *slog.Logger) *MembershipRelay {
	return &MembershipRelay{issuer: issuer, chain: client, log: log}
}

// Join authenticates the request and relays the member add. The nonce is
// consumed only once the caller has passed both the signature and the NFT
// gate, so a transiently failing eligibility check stays retryable with
// the same challenge.
func (m *MembershipRelay) Join(ctx context.Context, req *JoinRequest) (*chain.Receipt, *Error) {
	if !ethcommon.IsHexAddress(req.Address) {
		return nil, errValidation("address is not a valid hex address", nil)
	}
	address := ethcommon.HexToAddress(req.Address)

	commitment, ok := new(big.Int).SetString(req.IdentityCommitment, 10)
	if !ok || commitment.Sign() <= 0 {
		return nil, errValidation("identityCommitment is not a valid positive integer", nil)
	}

	nonceBytes, err := hexutil.Decode(req.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return nil, errValidation("nonce must be 32 hex bytes", err)
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, errValidation("signature is not valid hex", err)
	}

	if err := m.issuer.Verify(address, commitment, nonce, req.ExpiresAt, sig); err != nil {
		return nil, m.challengeError(err)
	}

	balance, err := m.chain.NFTBalance(ctx, address)
	if err != nil {
		return nil, errInfra("checking NFT balance", err)
	}
	if balance.Sign() == 0 {
		m.log.Info("join rejected, no gating NFT", "address", address.Hex())
		return nil, errNotEligible("address does not hold the gating NFT")
	}

	if err := m.issuer.Consume(nonce); err != nil {
		return nil, m.challengeError(err)
	}

	receipt, err := m.chain.AddMember(ctx, commitment)
	if err != nil {
		return nil, classifyChainErr(err)
	}

	m.log.Info("member joined",
		"address", address.Hex(),
		"tx", receipt.TxHash.Hex(),
	)
	metrics.JoinsAccepted.Inc()
	return receipt, nil
}

// challengeError maps challenge lifecycle failures onto the taxonomy.
func (m *MembershipRelay) challengeError(err error) *Error {
	switch {
	case errors.Is(err, challenge.ErrBadSignature), errors.Is(err, challenge.ErrMalformedProof):
		return errAuth("signature does not verify against the issued challenge", err)
	case errors.Is(err, challenge.ErrConsumed):
		return errReplay("challenge already used", err)
	case errors.Is(err, challenge.ErrExpired):
		return errValidation("challenge expired, request a new one", err)
	case errors.Is(err, challenge.ErrUnknownNonce):
		return errValidation("unknown challenge nonce", err)
	case errors.Is(err, challenge.ErrWrongIdentity):
		return errValidation("challenge fields do not match the issued challenge", err)
	default:
		return errInfra("verifying challenge", err)
	}
}
