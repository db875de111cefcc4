package relay

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/tomosaigon/disphorea/board"
	"github.com/tomosaigon/disphorea/chain"
	"github.com/tomosaigon/disphorea/metrics"
	"github.com/tomosaigon/disphorea/notify"
	"github.com/tomosaigon/disphorea/store"
)

// notifyTimeout bounds the background fan-out after a stored post.
const notifyTimeout = 10 * time.Second

// FeedbackRelay validates proof submissions, forwards them to the
// verification contract, and persists accepted posts.
type FeedbackRelay struct {
	board    *board.Board
	chain    chain.Client
	store    store.Store
	notifier notify.Notifier
	log      *slog.Logger
	clock    func() time.Time
}

// NewFeedbackRelay wires the feedback path. clock defaults to time.Now.
func NewFeedbackRelay(b *board.Board, client chain.Client, st store.Store, notifier notify.Notifier, log *slog.Logger, clock func() time.Time) *FeedbackRelay {
	if clock == nil {
		clock = time.Now
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &FeedbackRelay{
		board:    b,
		chain:    client,
		store:    st,
		notifier: notifier,
		log:      log,
		clock:    clock,
	}
}

// SubmitPost runs the full feedback path: shape validation, the scope
// window check, on-chain verification, storage, and best-effort fan-out.
// The post is stored only after confirmed on-chain success; no partial
// post exists for a failed submission.
func (f *FeedbackRelay) SubmitPost(ctx context.Context, req *PostRequest) (*store.Post, *Error) {
	bundle, verr := req.Bundle()
	if verr != nil {
		return nil, verr
	}

	if verr := f.checkScope(bundle.Scope); verr != nil {
		return nil, verr
	}

	start := f.clock()
	receipt, err := f.chain.SubmitProof(ctx, bundle)
	if err != nil {
		cerr := classifyChainErr(err)
		f.log.Warn("proof submission failed",
			"board", req.Board(),
			"kind", cerr.Kind.String(),
			"err", err,
		)
		return nil, cerr
	}
	metrics.ChainSubmitSeconds.Observe(f.clock().Sub(start).Seconds())

	post := &store.Post{
		ID:         receipt.TxHash.Hex(),
		BoardID:    req.Board(),
		PseudoID:   bundle.Nullifier.String(),
		Scope:      bundle.Scope.String(),
		MerkleRoot: bundle.MerkleTreeRoot.String(),
		Message:    bundle.Message.String(),
		Content:    req.Content,
		TxHash:     receipt.TxHash.Hex(),
		CreatedAt:  f.clock().UTC(),
	}

	if err := f.store.Append(ctx, post); err != nil {
		if err == store.ErrDuplicateID {
			// The proof already landed through an earlier request whose
			// response the caller may have missed; report that success.
			f.log.Info("duplicate post append tolerated", "tx", post.ID)
			return post, nil
		}
		return nil, errInfra("persisting post", err)
	}

	f.log.Info("post accepted",
		"board", post.BoardID,
		"pseudoId", post.PseudoID,
		"tx", post.TxHash,
	)
	metrics.PostsAccepted.Inc()

	// Fire-and-forget: a slow or failing channel must never block the
	// response or roll back the post.
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := f.notifier.Notify(nctx, post.BoardID, post.PseudoID, post.Content); err != nil {
			metrics.NotifyFailures.Inc()
			f.log.Warn("notification dropped", "board", post.BoardID, "err", err)
		}
	}()

	return post, nil
}

// checkScope accepts the current epoch's scope or the immediately
// preceding one. The one-epoch grace window absorbs clock drift between
// the client deriving its scope and the relay processing the request;
// anything else is rejected before touching the chain.
func (f *FeedbackRelay) checkScope(scope *big.Int) *Error {
	now := f.clock()
	epoch := f.board.EpochAt(now)

	if scope.Cmp(board.DeriveScope(f.board.Salt, epoch)) == 0 {
		return nil
	}
	if epoch > 0 && scope.Cmp(board.DeriveScope(f.board.Salt, epoch-1)) == 0 {
		return nil
	}
	return errReplay("scope is outside the accepted epoch window", nil)
}
