package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
	"github.com/dukerupert/allowance/internal/websocket"
)

// Clock reports the current local calendar day. *scheduler.Driver
// satisfies it.
type Clock interface {
	Today() time.Time
}

type WalletHandler struct {
	wallets *store.WalletStore
	users   *store.UserStore
	clock   Clock
	hub     Broadcaster
	logger  *slog.Logger
}

func NewWalletHandler(ws *store.WalletStore, us *store.UserStore, clock Clock, hub Broadcaster, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: ws, users: us, clock: clock, hub: hub, logger: logger}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// child resolves the {child_id} path value to an existing child, writing
// the error response itself when it cannot.
func (h *WalletHandler) child(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(r, "child_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get child")
		return 0, false
	}
	if u == nil || u.Role != model.RoleChild {
		writeError(w, http.StatusNotFound, "child not found")
		return 0, false
	}
	return id, true
}

// Get returns the child's balance. A child who was never credited has a
// zero balance rather than a 404.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.Get(r.Context(), childID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get wallet")
		return
	}
	if wallet == nil {
		wallet = &model.Wallet{ChildID: childID, Balance: decimal.Zero}
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	txs, err := h.wallets.ListTransactions(r.Context(), childID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []model.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Convert pays out part of the balance.
func (h *WalletHandler) Convert(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if !wholeCents(req.Amount) {
		writeError(w, http.StatusBadRequest, "amount must have at most 2 decimal places")
		return
	}
	wallet, err := h.wallets.Convert(r.Context(), childID, req.Amount, h.clock.Today())
	if h.walletError(w, childID, "convert", err) {
		return
	}
	h.announce(wallet, "converted", req.Amount.Neg())
	writeJSON(w, http.StatusOK, wallet)
}

// Adjust applies a signed manual correction. Admin only.
func (h *WalletHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, "amount must be non-zero")
		return
	}
	if !wholeCents(req.Amount) {
		writeError(w, http.StatusBadRequest, "amount must have at most 2 decimal places")
		return
	}
	wallet, err := h.wallets.Adjust(r.Context(), childID, req.Amount, h.clock.Today())
	if h.walletError(w, childID, "adjust", err) {
		return
	}
	h.announce(wallet, "adjusted", req.Amount)
	writeJSON(w, http.StatusOK, wallet)
}

func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

func (h *WalletHandler) walletError(w http.ResponseWriter, childID int64, op string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "insufficient funds")
	case errors.Is(err, store.ErrWalletNotFound):
		writeError(w, http.StatusConflict, "wallet has no balance")
	default:
		h.logger.Error("wallet "+op, "child_id", childID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" wallet")
	}
	return true
}

func (h *WalletHandler) announce(wallet *model.Wallet, action string, amount decimal.Decimal) {
	broadcast(h.hub, websocket.NewMessage("wallet", action, wallet.ChildID, map[string]any{
		"amount":  amount.StringFixed(2),
		"balance": wallet.Balance.StringFixed(2),
	}).ForChild(wallet.ChildID))
}
