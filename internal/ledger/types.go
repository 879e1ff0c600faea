package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind classifies an account and decides whether its balance may
// go negative.
type AccountKind string

const (
	KindChecking   AccountKind = "CHECKING"
	KindSavings    AccountKind = "SAVINGS"
	KindCash       AccountKind = "CASH"
	KindInvestment AccountKind = "INVESTMENT"
	KindCreditCard AccountKind = "CREDIT_CARD"
	KindLoan       AccountKind = "LOAN"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	switch k {
	case KindChecking, KindSavings, KindCash, KindInvestment, KindCreditCard, KindLoan:
		return true
	}
	return false
}

// BalanceProtected reports whether the kind forbids a negative balance.
// Credit cards and loans carry debt and may go below zero.
func (k AccountKind) BalanceProtected() bool {
	switch k {
	case KindChecking, KindSavings, KindCash, KindInvestment:
		return true
	}
	return false
}

// Account is a user-owned balance record. Balance and Version are owned
// exclusively by the ledger; the request layer never mutates them.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Kind      AccountKind     `json:"kind"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}

// PostingKind classifies a posting.
type PostingKind string

const (
	PostingIncome   PostingKind = "INCOME"
	PostingExpense  PostingKind = "EXPENSE"
	PostingTransfer PostingKind = "TRANSFER"
)

// Posting is an immutable record of a single money movement affecting
// exactly one account. Corrections are new offsetting postings, never
// updates in place.
type Posting struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	OwnerID       string          `json:"owner_id"`
	CategoryID    string          `json:"category_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          PostingKind     `json:"kind"`
	PeerAccountID string          `json:"peer_account_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
}
