package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomosaigon/disphorea/board"
	"github.com/tomosaigon/disphorea/challenge"
	"github.com/tomosaigon/disphorea/config"
	"github.com/tomosaigon/disphorea/metrics"
	"github.com/tomosaigon/disphorea/notify"
	"github.com/tomosaigon/disphorea/store"
)

// Handler exposes the relay's HTTP API. It implements the base server's
// RouteRegistrar.
type Handler struct {
	Board      *board.Board
	Contracts  *config.Contracts
	Issuer     *challenge.Issuer
	Membership *MembershipRelay
	Feedback   *FeedbackRelay
	Store      store.Store
	Notifier   notify.Notifier
	Log        *slog.Logger

	// Clock defaults to time.Now; tests inject a fake.
	Clock func() time.Time
}

// RegisterRoutes mounts the API on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/epoch", h.handleEpoch)
	r.Get("/contracts.json", h.handleContracts)
	r.Get("/join/challenge", h.handleChallenge)
	r.Post("/join", h.handleJoin)
	r.Post("/posts", h.handleSubmitPost)
	r.Get("/posts", h.handleListPosts)
	r.Get("/discord/status", h.handleDiscordStatus)
	r.Post("/discord/test", h.handleDiscordTest)
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Handler) handleEpoch(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":       h.Board.EpochAt(now),
		"epochLength": int64(h.Board.EpochLength / time.Second),
		"now":         now.Unix(),
	})
}

func (h *Handler) handleContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Contracts)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("identityCommitment")
	if raw == "" {
		h.writeError(w, errValidation("identityCommitment query parameter is required", nil))
		return
	}
	commitment, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		h.writeError(w, errValidation("identityCommitment is not a valid integer", nil))
		return
	}

	ch, err := h.Issuer.Issue(commitment)
	if err != nil {
		if err == challenge.ErrBadCommitment {
			h.writeError(w, errValidation("identityCommitment must be positive", err))
			return
		}
		h.writeError(w, errInfra("issuing challenge", err))
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errValidation("invalid JSON body", err))
		return
	}

	receipt, jerr := h.Membership.Join(r.Context(), &req)
	if jerr != nil {
		metrics.JoinsRejected.WithLabelValues(jerr.Kind.String()).Inc()
		h.writeError(w, jerr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"txHash": receipt.TxHash.Hex(),
	})
}

func (h *Handler) handleSubmitPost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errValidation("invalid JSON body", err))
		return
	}

	post, perr := h.Feedback.SubmitPost(r.Context(), &req)
	if perr != nil {
		metrics.PostsRejected.WithLabelValues(perr.Kind.String()).Inc()
		h.writeError(w, perr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"txHash": post.TxHash,
	})
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := store.ListQuery{
		BoardID:  r.URL.Query().Get("boardId"),
		PseudoID: r.URL.Query().Get("pseudoId"),
	}
	if q.BoardID == "" {
		q.BoardID = h.Board.ID
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, errValidation("limit must be a positive integer", err))
			return
		}
		q.Limit = limit
	}

	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := store.ParseCursor(raw)
		if err != nil {
			h.writeError(w, errValidation("after must be an RFC 3339 cursor", err))
			return
		}
		q.After = after
	}

	page, err := h.Store.List(r.Context(), q)
	if err != nil {
		h.writeError(w, errInfra("listing posts", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleDiscordStatus(w http.ResponseWriter, r *http.Request) {
	_, connected := h.Notifier.(*notify.DiscordWebhook)
	writeJSON(w, http.StatusOK, map[string]any{"connected": connected})
}

func (h *Handler) handleDiscordTest(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.Notifier.(*notify.DiscordWebhook)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "discord notifier not configured"})
		return
	}

	message := "Hello from the Disphorea relay"
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Message != "" {
		message = body.Message
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := webhook.Notify(ctx, h.Board.ID, "relay-test", message); err != nil {
		h.writeError(w, errInfra("sending test notification", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if e.Kind == KindInfrastructure {
		h.Log.Error("request failed", "kind", e.Kind.String(), "err", e)
	} else {
		h.Log.Debug("request rejected", "kind", e.Kind.String(), "err", e)
	}
	writeJSON(w, e.Kind.HTTPStatus(), map[string]any{
		"error": e.Message,
		"kind":  e.Kind.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
