package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tomosaigon/disphorea/chain"
)

// Kind buckets every failure the relay can surface to a caller.
type Kind int

const (
	// KindValidation: malformed request. Never retried.
	KindValidation Kind = iota + 1
	// KindAuth: signature does not authenticate the caller.
	KindAuth
	// KindNotEligible: caller authenticated but holds no gating NFT.
	KindNotEligible
	// KindReplay: scope outside the accepted window, or a consumed
	// challenge or nullifier reused. Resolves itself at the next epoch.
	KindReplay
	// KindChainRevert: the contract rejected the payload. Permanent for
	// this payload; surfaced with the contract's reason.
	KindChainRevert
	// KindInfrastructure: the node or database is unavailable. Callers
	// may retry with backoff.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotEligible:
		return "not_eligible"
	case KindReplay:
		return "replay"
	case KindChainRevert:
		return "chain_revert"
	case KindInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// HTTPStatus maps a kind to its response code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotEligible:
		return http.StatusForbidden
	case KindReplay:
		return http.StatusConflict
	case KindChainRevert:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the stable error shape handlers translate to JSON.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func errValidation(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func errAuth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

func errNotEligible(msg string) *Error {
	return &Error{Kind: KindNotEligible, Message: msg}
}

func errReplay(msg string, err error) *Error {
	return &Error{Kind: KindReplay, Message: msg, Err: err}
}

func errInfra(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// classifyChainErr translates a chain submission failure. Contract reverts
// mentioning the nullifier are the anti-replay path and map to KindReplay;
// other reverts (invalid proof, duplicate member) are permanent rejections;
// everything else is infrastructure.
func classifyChainErr(err error) *Error {
	if revert, ok := chain.AsRevert(err); ok {
		if strings.Contains(strings.ToLower(revert.Reason), "nullifier") {
			return &Error{Kind: KindReplay, Message: revert.Reason, Err: err}
		}
		return &Error{Kind: KindChainRevert, Message: revert.Reason, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errInfra("chain submission timed out", err)
	}
	return errInfra("chain submission failed", err)
}
