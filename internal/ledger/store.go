package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStore is the durable key-value view of accounts.
type AccountStore interface {
	// GetAccount returns ErrAccountNotFound when no record exists.
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	ListAccounts(ctx context.Context, ownerID string) ([]*Account, error)
}

// Journal is the append-only posting store. Postings are immutable once
// appended and require no synchronization after the fact.
type Journal interface {
	PostingsByAccount(ctx context.Context, accountID string) ([]*Posting, error)
	// PostingsByCategory returns postings for budget recomputation:
	// owner + category, timestamp within [from, to] inclusive.
	PostingsByCategory(ctx context.Context, ownerID, categoryID string, from, to time.Time) ([]*Posting, error)
}

// TransferUpdate is the transfer's atomic unit: two version-guarded
// balance writes and two linked postings that commit together or not
// at all.
type TransferUpdate struct {
	FromID      string
	FromVersion int64
	FromBalance decimal.Decimal

	ToID      string
	ToVersion int64
	ToBalance decimal.Decimal

	Out *Posting
	In  *Posting
}

// Store is the full durable-store contract the ledger core runs against.
// Implementations must make ApplyPosting and ApplyTransfer atomic and
// must fail them with ErrVersionMismatch when any expected version has
// moved on.
type Store interface {
	AccountStore
	Journal

	// ApplyPosting compare-and-swaps the account balance keyed on
	// expectedVersion and appends p in the same atomic unit. On success
	// it returns the account with its bumped version.
	ApplyPosting(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal, p *Posting) (*Account, error)

	// ApplyTransfer commits u atomically.
	ApplyTransfer(ctx context.Context, u TransferUpdate) error
}

// PostingObserver is notified synchronously after a posting has been
// durably appended. The budget aggregator hangs off this hook.
type PostingObserver interface {
	PostingAppended(ctx context.Context, p *Posting) error
}
