package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
)

type fixedClock time.Time

func (c fixedClock) Today() time.Time { return time.Time(c) }

func newWalletHandler(e *env) *WalletHandler {
	return NewWalletHandler(e.wallets, e.users, fixedClock(day("2024-03-10")), e.hub, discard)
}

func fund(t *testing.T, e *env, amount string) {
	t.Helper()
	ct, err := store.NewContractStore(e.db).Create(context.Background(), store.ContractInput{
		Title:       "Chores",
		ChildID:     e.child.ID,
		ParentID:    e.parent.ID,
		DailyReward: decimal.RequireFromString(amount),
		StartDate:   day("2024-03-01"),
		EndDate:     day("2024-03-31"),
	})
	require.NoError(t, err)
	ok, err := e.wallets.CreditDailyReward(context.Background(), e.child.ID, ct.ID, ct.DailyReward, day("2024-03-09"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWalletGetDefaultsToZero(t *testing.T) {
	e := newEnv(t, day("2024-03-10"))
	target := fmt.Sprintf("/api/wallets/%d", e.child.ID)
	rec := do(t, "GET /api/wallets/{child_id}", newWalletHandler(e).Get, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	w := decode[model.Wallet](t, rec)
	assert.True(t, w.Balance.IsZero())
}

func TestWalletUnknownChild(t *testing.T) {
	e := newEnv(t, day("2024-03-10"))
	h := newWalletHandler(e)

	rec := do(t, "GET /api/wallets/{child_id}", h.Get, http.MethodGet, "/api/wallets/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Parents have no wallet.
	target := fmt.Sprintf("/api/wallets/%d", e.parent.ID)
	rec = do(t, "GET /api/wallets/{child_id}", h.Get, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletConvert(t *testing.T) {
	e := newEnv(t, day("2024-03-10"))
	fund(t, e, "5.00")
	h := newWalletHandler(e)
	target := fmt.Sprintf("/api/wallets/%d/convert", e.child.ID)

	rec := do(t, "POST /api/wallets/{child_id}/convert", h.Convert, http.MethodPost, target, map[string]any{"amount": "3.25"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	w := decode[model.Wallet](t, rec)
	assert.Equal(t, "1.75", w.Balance.StringFixed(2))

	rec = do(t, "POST /api/wallets/{child_id}/convert", h.Convert, http.MethodPost, target, map[string]any{"amount": "2.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient funds", errorOf(t, rec))

	rec = do(t, "POST /api/wallets/{child_id}/convert", h.Convert, http.MethodPost, target, map[string]any{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, "POST /api/wallets/{child_id}/convert", h.Convert, http.MethodPost, target, map[string]any{"amount": "0.004"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount must have at most 2 decimal places", errorOf(t, rec))

	rec = do(t, "GET /api/wallets/{child_id}/transactions", h.Transactions, http.MethodGet,
		fmt.Sprintf("/api/wallets/%d/transactions", e.child.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.WalletTransaction](t, rec), 2, "one reward and one conversion")

	require.Len(t, e.hub.msgs, 1)
	assert.Equal(t, "wallet_converted", e.hub.msgs[0].Type)
	assert.Equal(t, e.child.ID, e.hub.msgs[0].ChildID)
}

func TestWalletTransactions(t *testing.T) {
	e := newEnv(t, day("2024-03-10"))
	fund(t, e, "2.50")
	h := newWalletHandler(e)
	target := fmt.Sprintf("/api/wallets/%d", e.child.ID)

	rec := do(t, "POST /api/wallets/{child_id}/adjust", h.Adjust, http.MethodPost, target+"/adjust", map[string]any{"amount": "-0.50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, "GET /api/wallets/{child_id}/transactions", h.Transactions, http.MethodGet, target+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]model.WalletTransaction](t, rec)
	require.Len(t, txs, 2)
	assert.Equal(t, model.ReasonAdjustment, txs[0].Reason)
	assert.Equal(t, model.ReasonDailyReward, txs[1].Reason)

	rec = do(t, "GET /api/wallets/{child_id}/transactions", h.Transactions, http.MethodGet, target+"/transactions?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletAdjustRejectsNegativeBalance(t *testing.T) {
	e := newEnv(t, day("2024-03-10"))
	fund(t, e, "1.00")
	target := fmt.Sprintf("/api/wallets/%d/adjust", e.child.ID)

	rec := do(t, "POST /api/wallets/{child_id}/adjust", newWalletHandler(e).Adjust, http.MethodPost, target, map[string]any{"amount": "-1.01"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, "POST /api/wallets/{child_id}/adjust", newWalletHandler(e).Adjust, http.MethodPost, target, map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, "POST /api/wallets/{child_id}/adjust", newWalletHandler(e).Adjust, http.MethodPost, target, map[string]any{"amount": "0.015"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
