package challenge

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Lifecycle errors surfaced by Verify and Consume.
var (
	ErrUnknownNonce   = errors.New("challenge: unknown nonce")
	ErrExpired        = errors.New("challenge: expired")
	ErrConsumed       = errors.New("challenge: already consumed")
	ErrWrongIdentity  = errors.New("challenge: identity commitment does not match")
	ErrBadSignature   = errors.New("challenge: signature does not recover to address")
	ErrBadCommitment  = errors.New("challenge: invalid identity commitment")
	ErrMalformedProof = errors.New("challenge: malformed signature")
)

// DefaultTTL bounds how long an issued challenge stays signable.
const DefaultTTL = 5 * time.Minute

// Config parameterizes an Issuer. ChainID and VerifyingContract pin the
// EIP-712 domain to one deployment so signatures cannot be replayed across
// chains or contracts.
type Config struct {
	DomainName        string
	ChainID           *big.Int
	VerifyingContract common.Address
	GroupID           *big.Int
	TTL               time.Duration

	// Clock is the time source; defaults to time.Now. Tests inject a fake.
	Clock func() time.Time
}

// Challenge is the signable payload returned to a prospective member.
// The client signs the EIP-712 encoding of (GroupID, IdentityCommitment,
// Nonce, ExpiresAt) under Domain and submits the signature with its join
// request.
type Challenge struct {
	GroupID            string `json:"groupId"`
	IdentityCommitment string `json:"identityCommitment"`
	Nonce              string `json:"nonce"`
	ExpiresAt          int64  `json:"expiresAt"`
	Domain             Domain `json:"domain"`
}

// Domain describes the EIP-712 signing domain clients must use.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type entry struct {
	commitment *big.Int
	expiresAt  time.Time
	consumed   bool
}

// Issuer hands out challenges and tracks their nonce lifecycle:
// issued -> consumed | expired. A consumed or expired nonce is rejected on
// any further use.
type Issuer struct {
	cfg Config

	mu     sync.Mutex
	nonces map[[32]byte]*entry
}

// NewIssuer validates the configuration and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.DomainName == "" {
		return nil, errors.New("challenge: domain name is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("challenge: chain id is required")
	}
	if cfg.GroupID == nil || cfg.GroupID.Sign() < 0 {
		return nil, errors.New("challenge: group id is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Issuer{
		cfg:    cfg,
		nonces: make(map[[32]byte]*entry),
	}, nil
}

// Issue creates a challenge binding the group and the caller's identity
// commitment to a fresh random nonce and an expiry.
func (i *Issuer) Issue(identityCommitment *big.Int) (*Challenge, error) {
	if identityCommitment == nil || identityCommitment.Sign() <= 0 {
		return nil, ErrBadCommitment
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("challenge: generating nonce: %w", err)
	}

	now := i.cfg.Clock()
	expiresAt := now.Add(i.cfg.TTL)

	i.mu.Lock()
	i.sweepLocked(now)
	i.nonces[nonce] = &entry{
		commitment: new(big.Int).Set(identityCommitment),
		expiresAt:  expiresAt,
	}
	i.mu.Unlock()

	return &Challenge{
		GroupID:            i.cfg.GroupID.String(),
		IdentityCommitment: identityCommitment.String(),
		Nonce:              hexutil.Encode(nonce[:]),
		ExpiresAt:          expiresAt.Unix(),
		Domain: Domain{
			Name:              i.cfg.DomainName,
			Version:           domainVersion,
			ChainID:           i.cfg.ChainID.Int64(),
			VerifyingContract: i.cfg.VerifyingContract.Hex(),
		},
	}, nil
}

// Verify checks that the (nonce, commitment) pair matches an issued,
// unexpired, unconsumed challenge and that sig is a valid secp256k1
// signature by address over the challenge's EIP-712 hash.
//
// Verify does not consume the nonce: a join attempt that later fails the
// eligibility check may be retried with the same challenge. Call Consume
// once the join is about to be relayed.
func (i *Issuer) Verify(address common.Address, identityCommitment *big.Int, nonce [32]byte, expiresAt int64, sig []byte) error {
	i.mu.Lock()
	e, ok := i.nonces[nonce]
	if ok && e.consumed {
		i.mu.Unlock()
		return ErrConsumed
	}
	i.mu.Unlock()

	if !ok {
		return ErrUnknownNonce
	}
	if i.cfg.Clock().After(e.expiresAt) {
		return ErrExpired
	}
	if identityCommitment == nil || e.commitment.Cmp(identityCommitment) != 0 {
		return ErrWrongIdentity
	}
	if expiresAt != e.expiresAt.Unix() {
		return ErrWrongIdentity
	}

	hash, err := i.digest(identityCommitment, nonce, e.expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("challenge: hashing typed data: %w", err)
	}

	recovered, err := recoverSigner(hash, sig)
	if err != nil {
		return err
	}
	if recovered != address {
		return ErrBadSignature
	}
	return nil
}

// Consume marks a nonce as used. A second Consume of the same nonce, or a
// Consume of an expired or never-issued nonce, fails.
func (i *Issuer) Consume(nonce [32]byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.nonces[nonce]
	if !ok {
		return ErrUnknownNonce
	}
	if e.consumed {
		return ErrConsumed
	}
	if i.cfg.Clock().After(e.expiresAt) {
		return ErrExpired
	}
	e.consumed = true
	return nil
}

// sweepLocked drops expired entries. Caller holds i.mu.
func (i *Issuer) sweepLocked(now time.Time) {
	for nonce, e := range i.nonces {
		if now.After(e.expiresAt) {
			delete(i.nonces, nonce)
		}
	}
}

// recoverSigner recovers the signing address from a 65-byte [R || S || V]
// signature over hash, accepting both V in {0,1} and the legacy {27,28}.
func recoverSigner(hash []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrMalformedProof
	}
	adjusted := make([]byte, 65)
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(hash, adjusted)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMalformedProof, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
