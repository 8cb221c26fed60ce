package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger reasons. ReasonDailyReward is unique per (child, contract, date).
const (
	ReasonDailyReward = "daily reward"
	ReasonConversion  = "conversion"
	ReasonAdjustment  = "adjustment"
)

// Wallet is the cached balance of a child's ledger.
type Wallet struct {
	ChildID int64           `json:"child_id"`
	Balance decimal.Decimal `json:"balance"`
}

type WalletTransaction struct {
	ID         int64           `json:"id"`
	ChildID    int64           `json:"child_id"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	Reason     string          `json:"reason"`
	ContractID *int64          `json:"contract_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BalanceDrift describes a wallet whose cached balance disagrees with its
// ledger.
type BalanceDrift struct {
	ChildID   int64           `json:"child_id"`
	Cached    decimal.Decimal `json:"cached"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
}

// DuplicateReward is a (child, contract, date) key holding more than one
// daily reward row.
type DuplicateReward struct {
	ChildID    int64     `json:"child_id"`
	ContractID int64     `json:"contract_id"`
	Date       time.Time `json:"date"`
	Count      int       `json:"count"`
}
