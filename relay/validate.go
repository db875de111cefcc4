package relay

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/tomosaigon/disphorea/chain"
	"github.com/tomosaigon/disphorea/common"
)

// maxContentLength bounds post content; anything longer would not fit the
// 31-byte signal the proof binds anyway.
const maxContentLength = 4096

// Numeric is a JSON field that clients may send as a decimal string, a
// 0x-prefixed hex string, or a bare number.
type Numeric string

// UnmarshalJSON accepts both quoted and unquoted tokens.
func (n *Numeric) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = Numeric(s)
		return nil
	}
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*n = Numeric(raw.String())
	return nil
}

// Big parses the field as a 256-bit integer.
func (n Numeric) Big() (*big.Int, bool) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return nil, false
	}
	return math.ParseBig256(s)
}

// PostRequest is the wire shape of a post submission.
type PostRequest struct {
	Proof struct {
		MerkleTreeDepth Numeric   `json:"merkleTreeDepth"`
		Points          []Numeric `json:"points"`
	} `json:"proof"`
	MerkleRoot    Numeric `json:"merkleRoot"`
	NullifierHash Numeric `json:"nullifierHash"`
	Scope         Numeric `json:"scope"`
	// Message is the field element the proof binds; when omitted it is
	// recomputed from Content with the standard bytes32 string encoding.
	Message Numeric `json:"message"`
	Content string  `json:"content"`
	BoardID string  `json:"boardId"`
}

// Bundle validates the request shape and converts it to a proof bundle.
// The validation runs before any chain interaction so a doomed payload
// never costs a transaction.
func (r *PostRequest) Bundle() (*chain.ProofBundle, *Error) {
	if r.Content == "" {
		return nil, errValidation("content must not be empty", nil)
	}
	if len(r.Content) > maxContentLength {
		return nil, errValidation(fmt.Sprintf("content exceeds %d bytes", maxContentLength), nil)
	}
	if len(r.Proof.Points) != chain.ProofPoints {
		return nil, errValidation(fmt.Sprintf("proof must contain exactly %d points, got %d", chain.ProofPoints, len(r.Proof.Points)), nil)
	}

	bundle := &chain.ProofBundle{}
	var ok bool

	if bundle.MerkleTreeDepth, ok = r.Proof.MerkleTreeDepth.Big(); !ok {
		return nil, errValidation("proof.merkleTreeDepth is not a valid integer", nil)
	}
	if bundle.MerkleTreeRoot, ok = r.MerkleRoot.Big(); !ok {
		return nil, errValidation("merkleRoot is not a valid integer", nil)
	}
	if bundle.Nullifier, ok = r.NullifierHash.Big(); !ok {
		return nil, errValidation("nullifierHash is not a valid integer", nil)
	}
	if bundle.Scope, ok = r.Scope.Big(); !ok {
		return nil, errValidation("scope is not a valid integer", nil)
	}

	if r.Message != "" {
		if bundle.Message, ok = r.Message.Big(); !ok {
			return nil, errValidation("message is not a valid integer", nil)
		}
	} else {
		msg, err := EncodeBytes32String(r.Content)
		if err != nil {
			return nil, errValidation("content does not fit the proof message field; supply message explicitly", err)
		}
		bundle.Message = msg
	}

	for i, pt := range r.Proof.Points {
		p, ok := pt.Big()
		if !ok {
			return nil, errValidation(fmt.Sprintf("proof.points[%d] is not a valid integer", i), nil)
		}
		bundle.Points[i] = p
	}

	return bundle, nil
}

// Board returns the requested board id, defaulting like the web client.
func (r *PostRequest) Board() string {
	if r.BoardID == "" {
		return common.DefaultBoardID
	}
	return r.BoardID
}

// EncodeBytes32String encodes s into the left-aligned, zero-padded bytes32
// integer form provers use for short signals. Strings longer than 31 bytes
// do not fit.
func EncodeBytes32String(s string) (*big.Int, error) {
	if len(s) > 31 {
		return nil, fmt.Errorf("string of %d bytes exceeds bytes32 capacity", len(s))
	}
	var buf [32]byte
	copy(buf[:], s)
	return new(big.Int).SetBytes(buf[:]), nil
}

// JoinRequest is the wire shape of a join submission.
type JoinRequest struct {
	Address            string `json:"address"`
	IdentityCommitment string `json:"identityCommitment"`
	Nonce              string `json:"nonce"`
	ExpiresAt          int64  `json:"expiresAt"`
	Signature          string `json:"signature"`
}
