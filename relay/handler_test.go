package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomosaigon/disphorea/board"
	"github.com/tomosaigon/disphorea/chain"
	"github.com/tomosaigon/disphorea/challenge"
	"github.com/tomosaigon/disphorea/config"
	"github.com/tomosaigon/disphorea/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures notifications and can be made to fail.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	fail     bool
	notified chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notified: make(chan struct{}, 16)}
}

func (n *recordingNotifier) Notify(_ context.Context, boardID, pseudoID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer func() { n.notified <- struct{}{} }()
	if n.fail {
		return fmt.Errorf("channel down")
	}
	n.messages = append(n.messages, fmt.Sprintf("%s/%s/%s", boardID, pseudoID, content))
	return nil
}

type fixture struct {
	router   chi.Router
	handler  *Handler
	mock     *chain.MockClient
	issuer   *challenge.Issuer
	board    *board.Board
	store    *store.InMemoryStore
	clock    *fakeClock
	notifier *recordingNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	salt, err := board.ParseSalt("0x000000000000000000000000000000000000000000000000000000000000BEEF")
	require.NoError(t, err)
	b, err := board.New("default", salt, 10*time.Second)
	require.NoError(t, err)

	mock := chain.NewMockClient(31337)

	issuer, err := challenge.NewIssuer(challenge.Config{
		DomainName:        "Disphorea",
		ChainID:           big.NewInt(31337),
		VerifyingContract: ethcommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		GroupID:           big.NewInt(0),
		TTL:               5 * time.Minute,
		Clock:             clock.Now,
	})
	require.NoError(t, err)

	st := store.NewInMemoryStore()
	notifier := newRecordingNotifier()

	h := &Handler{
		Board: b,
		Contracts: &config.Contracts{
			ChainID:     31337,
			Feedback:    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			NFT:         "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
			GroupID:     0,
			BoardSalt:   "0x000000000000000000000000000000000000000000000000000000000000BEEF",
			EpochLength: 10,
		},
		Issuer:     issuer,
		Membership: NewMembershipRelay(issuer, mock, log),
		Feedback:   NewFeedbackRelay(b, mock, st, notifier, log, clock.Now),
		Store:      st,
		Notifier:   notifier,
		Log:        log,
		Clock:      clock.Now,
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return &fixture{
		router:   r,
		handler:  h,
		mock:     mock,
		issuer:   issuer,
		board:    b,
		store:    st,
		clock:    clock,
		notifier: notifier,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

// requestChallenge performs the GET /join/challenge round trip.
func (f *fixture) requestChallenge(t *testing.T, commitment *big.Int) *challenge.Challenge {
	t.Helper()
	w := f.do(t, http.MethodGet, "/join/challenge?identityCommitment="+commitment.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ch challenge.Challenge
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ch))
	return &ch
}

// signJoin signs the challenge's EIP-712 hash and builds the join body.
func (f *fixture) signJoin(t *testing.T, ch *challenge.Challenge, key *ecdsa.PrivateKey) *JoinRequest {
	t.Helper()

	commitment, ok := new(big.Int).SetString(ch.IdentityCommitment, 10)
	require.True(t, ok)
	raw, err := hexutil.Decode(ch.Nonce)
	require.NoError(t, err)
	var nonce [32]byte
	copy(nonce[:], raw)

	hash, _, err := apitypes.TypedDataAndHash(f.issuer.TypedData(commitment, nonce, ch.ExpiresAt))
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(hash, key)
	require.NoError(t, err)

	return &JoinRequest{
		Address:            ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		IdentityCommitment: ch.IdentityCommitment,
		Nonce:              ch.Nonce,
		ExpiresAt:          ch.ExpiresAt,
		Signature:          hexutil.Encode(sig),
	}
}

// postBody builds a well-formed post request for the given scope and
// nullifier.
func postBody(scope *big.Int, nullifier int64, content string) map[string]any {
	points := make([]string, chain.ProofPoints)
	for i := range points {
		points[i] = big.NewInt(int64(1000 + i)).String()
	}
	return map[string]any{
		"proof": map[string]any{
			"merkleTreeDepth": 20,
			"points":          points,
		},
		"merkleRoot":    "987654321",
		"nullifierHash": big.NewInt(nullifier).String(),
		"scope":         scope.String(),
		"content":       content,
		"boardId":       "default",
	}
}

func TestEpochEndpoint(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/epoch", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, float64(170000000), body["epoch"])
	require.Equal(t, float64(10), body["epochLength"])
	require.Equal(t, float64(1_700_000_000), body["now"])
}

func TestContractsEndpoint(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/contracts.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, float64(31337), body["chainId"])
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000BEEF", body["boardSalt"])
}

func TestJoinFlow(t *testing.T) {
	f := setup(t)

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	commitment := big.NewInt(1111)

	// valid signature, but no gating NFT yet
	ch := f.requestChallenge(t, commitment)
	join := f.signJoin(t, ch, key)
	w := f.do(t, http.MethodPost, "/join", join)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	require.Equal(t, "not_eligible", decodeBody(t, w)["kind"])
	require.False(t, f.mock.IsMember(commitment))

	// mint one token and retry with the same challenge
	f.mock.Mint(ethcrypto.PubkeyToAddress(key.PublicKey))
	w = f.do(t, http.MethodPost, "/join", join)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.Equal(t, true, body["ok"])
	require.NotEmpty(t, body["txHash"])
	require.True(t, f.mock.IsMember(commitment))

	// the consumed challenge cannot authorize a second join
	w = f.do(t, http.MethodPost, "/join", join)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestJoinRejectsWrongSigner(t *testing.T) {
	f := setup(t)

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	impostor, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	ch := f.requestChallenge(t, big.NewInt(2222))
	join := f.signJoin(t, ch, impostor)
	// claim the holder's address but sign with another key
	join.Address = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	w := f.do(t, http.MethodPost, "/join", join)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	require.Equal(t, "auth", decodeBody(t, w)["kind"])
}

func TestJoinRejectsMalformedRequests(t *testing.T) {
	f := setup(t)

	cases := map[string]*JoinRequest{
		"bad address":    {Address: "nope", IdentityCommitment: "1", Nonce: "0x" + "00", Signature: "0x00"},
		"bad commitment": {Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", IdentityCommitment: "xyz", Nonce: "0x00", Signature: "0x00"},
		"unknown nonce": {
			Address:            "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			IdentityCommitment: "1",
			Nonce:              "0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff",
			Signature:          "0x" + "00",
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/join", req)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestJoinDuplicateCommitmentSurfacesRevert(t *testing.T) {
	f := setup(t)

	keyA, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyB, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	f.mock.Mint(ethcrypto.PubkeyToAddress(keyA.PublicKey))
	f.mock.Mint(ethcrypto.PubkeyToAddress(keyB.PublicKey))

	commitment := big.NewInt(3333)

	join := f.signJoin(t, f.requestChallenge(t, commitment), keyA)
	w := f.do(t, http.MethodPost, "/join", join)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a different holder relaying the same commitment hits the contract's
	// duplicate rejection
	join2 := f.signJoin(t, f.requestChallenge(t, commitment), keyB)
	w = f.do(t, http.MethodPost, "/join", join2)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Contains(t, decodeBody(t, w)["error"], "already a member")
}

func TestSubmitPostHappyPath(t *testing.T) {
	f := setup(t)

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 42, "Hello World"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	require.Equal(t, true, body["ok"])
	txHash, _ := body["txHash"].(string)
	require.NotEmpty(t, txHash)

	page, err := f.store.List(context.Background(), store.ListQuery{BoardID: "default"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	post := page.Items[0]
	assert.Equal(t, txHash, post.ID)
	assert.Equal(t, "42", post.PseudoID)
	assert.Equal(t, scope.String(), post.Scope)
	assert.Equal(t, "Hello World", post.Content)

	// notification fanned out in the background
	select {
	case <-f.notifier.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not invoked")
	}
}

func TestSubmitPostNullifierReuseRejected(t *testing.T) {
	f := setup(t)

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 42, "first"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/posts", postBody(scope, 42, "second"))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.Equal(t, "replay", decodeBody(t, w)["kind"])

	// only the first post was stored
	page, err := f.store.List(context.Background(), store.ListQuery{BoardID: "default"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestSubmitPostScopeWindow(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()
	epoch := f.board.EpochAt(now)

	// previous epoch's scope is inside the grace window
	prev := board.DeriveScope(f.board.Salt, epoch-1)
	w := f.do(t, http.MethodPost, "/posts", postBody(prev, 7, "late but fine"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// two epochs back is rejected locally, without a chain call
	stale := board.DeriveScope(f.board.Salt, epoch-2)
	w = f.do(t, http.MethodPost, "/posts", postBody(stale, 8, "too late"))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.Contains(t, decodeBody(t, w)["error"], "scope")

	// arbitrary scope values are rejected the same way
	w = f.do(t, http.MethodPost, "/posts", postBody(big.NewInt(123456), 9, "bogus"))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestSubmitPostValidation(t *testing.T) {
	f := setup(t)
	scope := f.board.ScopeAt(f.clock.Now())

	t.Run("empty content", func(t *testing.T) {
		body := postBody(scope, 1, "")
		w := f.do(t, http.MethodPost, "/posts", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong point count", func(t *testing.T) {
		body := postBody(scope, 1, "hi")
		body["proof"].(map[string]any)["points"] = []string{"1", "2", "3"}
		w := f.do(t, http.MethodPost, "/posts", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-numeric field", func(t *testing.T) {
		body := postBody(scope, 1, "hi")
		body["nullifierHash"] = "not-a-number"
		w := f.do(t, http.MethodPost, "/posts", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/posts", bytes.NewReader([]byte("{")))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	// none of the rejected payloads reached the store
	page, err := f.store.List(context.Background(), store.ListQuery{BoardID: "default"})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestSubmitPostChainRevertSurfaced(t *testing.T) {
	f := setup(t)
	f.mock.RejectProofs = true

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 1, "hi"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	body := decodeBody(t, w)
	require.Equal(t, "chain_revert", body["kind"])
	require.Contains(t, body["error"], "invalid proof")
}

func TestSubmitPostInfrastructureFailure(t *testing.T) {
	f := setup(t)
	f.mock.SubmitErr = fmt.Errorf("connection refused")

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 1, "hi"))
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	// nothing stored for a failed submission
	page, err := f.store.List(context.Background(), store.ListQuery{BoardID: "default"})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestNotifierFailureDoesNotFailPost(t *testing.T) {
	f := setup(t)
	f.notifier.fail = true

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 42, "still stored"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	select {
	case <-f.notifier.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not invoked")
	}

	// the post stayed stored despite the failed notification
	page, err := f.store.List(context.Background(), store.ListQuery{BoardID: "default"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestListPostsPagination(t *testing.T) {
	f := setup(t)

	// post across epochs with distinct nullifiers
	for i := 0; i < 25; i++ {
		scope := f.board.ScopeAt(f.clock.Now())
		w := f.do(t, http.MethodPost, "/posts", postBody(scope, int64(100+i), fmt.Sprintf("post %02d", i)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		f.clock.Advance(time.Second)
	}

	w := f.do(t, http.MethodGet, "/posts?boardId=default&limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page store.Page
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Items, 20)
	require.NotEmpty(t, page.NextCursor)
	for i := 1; i < len(page.Items); i++ {
		require.True(t, !page.Items[i].CreatedAt.Before(page.Items[i-1].CreatedAt),
			"items must be in ascending creation order")
	}

	w = f.do(t, http.MethodGet, "/posts?boardId=default&limit=20&after="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page2 store.Page
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page2))
	require.Len(t, page2.Items, 5)
	last := page.Items[len(page.Items)-1]
	for _, p := range page2.Items {
		require.True(t, p.CreatedAt.After(last.CreatedAt), "cursor must filter strictly later items")
	}
}

func TestListPostsPseudoIDFilter(t *testing.T) {
	f := setup(t)

	scope := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scope, 42, "mine"))
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/posts", postBody(scope, 43, "theirs"))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/posts?boardId=default&pseudoId=42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page store.Page
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Items, 1)
	require.Equal(t, "mine", page.Items[0].Content)
}

func TestListPostsRejectsBadParams(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/posts?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/posts?after=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscordStatus(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/discord/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decodeBody(t, w)["connected"])

	w = f.do(t, http.MethodPost, "/discord/test", map[string]any{"message": "ping"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestEpochRolloverScenario walks the full posting scenario: a post in
// epoch e, an immediate replay, and a fresh post after the epoch rolls
// over.
func TestEpochRolloverScenario(t *testing.T) {
	f := setup(t)

	scopeE := f.board.ScopeAt(f.clock.Now())
	w := f.do(t, http.MethodPost, "/posts", postBody(scopeE, 42, "Hello World"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, decodeBody(t, w)["txHash"])

	// immediate repost, same nullifier and scope
	w = f.do(t, http.MethodPost, "/posts", postBody(scopeE, 42, "Hello Again"))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	// after the 10s epoch elapses, the client derives the next scope and
	// its prover yields a fresh nullifier
	f.clock.Advance(12 * time.Second)
	scopeNext := f.board.ScopeAt(f.clock.Now())
	require.NotEqual(t, scopeE.String(), scopeNext.String())

	w = f.do(t, http.MethodPost, "/posts", postBody(scopeNext, 43, "Hello World"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
