// Package client is a Go client for the relay HTTP API.
//
// It covers the full caller lifecycle: fetching the deployment record and
// epoch info, running the challenge/sign/join handshake with a local
// wallet key, submitting proof bundles, and paging through the post feed.
// The relay's error taxonomy is surfaced as *APIError so callers can
// distinguish a permanent rejection from a retryable failure.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/tomosaigon/disphorea/challenge"
	"github.com/tomosaigon/disphorea/config"
	"github.com/tomosaigon/disphorea/relay"
	"github.com/tomosaigon/disphorea/store"
)

// APIError is a non-2xx response from the relay, carrying its error
// taxonomy kind.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// Retryable reports whether the failure may resolve on its own: the
// relay's infrastructure kinds, plus replay rejections that clear at the
// next epoch.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.Kind == "replay"
}

// EpochInfo is the relay's current epoch report.
type EpochInfo struct {
	Epoch       uint64 `json:"epoch"`
	EpochLength int64  `json:"epochLength"`
	Now         int64  `json:"now"`
}

// TxResult reports an accepted relayed transaction.
type TxResult struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"txHash"`
}

// ListOptions selects a page of the post feed.
type ListOptions struct {
	BoardID  string
	PseudoID string
	Limit    int
	After    string
}

// Client talks to one relay instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the relay at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// NewWithHTTPClient creates a client using the given HTTP client, for
// callers that need custom transports or timeouts.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// Epoch fetches the relay's current epoch.
func (c *Client) Epoch(ctx context.Context) (*EpochInfo, error) {
	var info EpochInfo
	if err := c.get(ctx, "/epoch", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Contracts fetches the deployment record the relay serves.
func (c *Client) Contracts(ctx context.Context) (*config.Contracts, error) {
	var contracts config.Contracts
	if err := c.get(ctx, "/contracts.json", &contracts); err != nil {
		return nil, err
	}
	return &contracts, nil
}

// JoinChallenge requests a signable join challenge for the identity
// commitment.
func (c *Client) JoinChallenge(ctx context.Context, identityCommitment *big.Int) (*challenge.Challenge, error) {
	path := "/join/challenge?identityCommitment=" + identityCommitment.String()
	var ch challenge.Challenge
	if err := c.get(ctx, path, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Join submits a signed join request.
func (c *Client) Join(ctx context.Context, req *relay.JoinRequest) (*TxResult, error) {
	var result TxResult
	if err := c.post(ctx, "/join", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignAndJoin runs the whole handshake with a local wallet key: request a
// challenge, sign its EIP-712 hash, and submit the join.
func (c *Client) SignAndJoin(ctx context.Context, key *ecdsa.PrivateKey, identityCommitment *big.Int) (*TxResult, error) {
	ch, err := c.JoinChallenge(ctx, identityCommitment)
	if err != nil {
		return nil, err
	}

	typed, err := challenge.TypedDataFor(ch)
	if err != nil {
		return nil, fmt.Errorf("rebuilding challenge typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hashing challenge: %w", err)
	}
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("signing challenge: %w", err)
	}

	return c.Join(ctx, &relay.JoinRequest{
		Address:            ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		IdentityCommitment: ch.IdentityCommitment,
		Nonce:              ch.Nonce,
		ExpiresAt:          ch.ExpiresAt,
		Signature:          hexutil.Encode(sig),
	})
}

// SubmitPost relays a proof bundle.
func (c *Client) SubmitPost(ctx context.Context, req *relay.PostRequest) (*TxResult, error) {
	var result TxResult
	if err := c.post(ctx, "/posts", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPosts fetches one page of the feed.
func (c *Client) ListPosts(ctx context.Context, opts ListOptions) (*store.Page, error) {
	query := url.Values{}
	if opts.BoardID != "" {
		query.Set("boardId", opts.BoardID)
	}
	if opts.PseudoID != "" {
		query.Set("pseudoId", opts.PseudoID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.After != "" {
		query.Set("after", opts.After)
	}

	path := "/posts"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page store.Page
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		apiErr.Message = err.Error()
		return apiErr
	}

	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	} else {
		apiErr.Message = string(raw)
	}
	return apiErr
}
