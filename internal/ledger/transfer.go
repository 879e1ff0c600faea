package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/money"
)

// TransferCoordinator executes the one genuine multi-entity transaction
// in the system: an all-or-nothing move of money between two accounts.
type TransferCoordinator struct {
	store  Store
	ledger *AccountLedger
	logger *slog.Logger

	// Shared with the account ledger so transfers and single-account
	// movements serialize on the same per-account mutexes.
	locks *lockTable
}

// NewTransferCoordinator creates a coordinator sharing the ledger's
// store, lock table, and observer chain.
func NewTransferCoordinator(store Store, ledger *AccountLedger, logger *slog.Logger) *TransferCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferCoordinator{
		store:  store,
		ledger: ledger,
		logger: logger,
		locks:  ledger.locks,
	}
}

// Transfer moves amount from one account to another, committing both
// balance updates and two linked TRANSFER postings in one atomic unit.
// Either both legs persist or neither does.
func (tc *TransferCoordinator) Transfer(ctx context.Context, ownerID, fromID, toID string, amount decimal.Decimal, at time.Time) (*Posting, *Posting, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}
	if fromID == toID {
		return nil, nil, &ValidationError{Field: "to_account_id", Reason: "must differ from source account"}
	}
	amount = money.Normalize(amount)
	if at.IsZero() {
		at = time.Now().UTC()
	}

	first, second := tc.lockPair(fromID, toID)
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		from, err := tc.ledger.getOwned(ctx, ownerID, fromID)
		if err != nil {
			return nil, nil, err
		}
		to, err := tc.ledger.getOwned(ctx, ownerID, toID)
		if err != nil {
			return nil, nil, err
		}

		if from.Currency != to.Currency {
			return nil, nil, &ValidationError{Field: "to_account_id", Reason: fmt.Sprintf("currency mismatch: %s vs %s", from.Currency, to.Currency)}
		}

		newFrom := from.Balance.Sub(amount)
		if from.Kind.BalanceProtected() && newFrom.Sign() < 0 {
			return nil, nil, fmt.Errorf("transfer %s from account %s: %w", amount.StringFixed(2), fromID, ErrInsufficientFunds)
		}
		newTo := to.Balance.Add(amount)

		out, in := linkedPostings(from, to, amount, at)

		err = tc.store.ApplyTransfer(ctx, TransferUpdate{
			FromID:      from.ID,
			FromVersion: from.Version,
			FromBalance: newFrom,
			ToID:        to.ID,
			ToVersion:   to.Version,
			ToBalance:   newTo,
			Out:         out,
			In:          in,
		})
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				if sleepErr := backoff(ctx, attempt); sleepErr != nil {
					return nil, nil, sleepErr
				}
				continue
			}
			return nil, nil, fmt.Errorf("failed to commit transfer: %w", err)
		}

		tc.ledger.notify(ctx, out)
		tc.ledger.notify(ctx, in)
		return out, in, nil
	}

	tc.logger.Warn("transfer retries exhausted", "from", fromID, "to", toID)
	return nil, nil, fmt.Errorf("transfer %s -> %s: %w", fromID, toID, ErrConflict)
}

// lockPair returns the two account mutexes in deterministic order, the
// lexically smaller id first regardless of transfer direction. The
// total order is what makes a cycle of waiters impossible.
func (tc *TransferCoordinator) lockPair(a, b string) (*sync.Mutex, *sync.Mutex) {
	if b < a {
		a, b = b, a
	}
	return tc.locks.acquire(a), tc.locks.acquire(b)
}

// linkedPostings builds the two legs of a transfer: same timestamp, same
// magnitude, peer ids cross-referencing each other, no category.
func linkedPostings(from, to *Account, amount decimal.Decimal, at time.Time) (*Posting, *Posting) {
	now := time.Now().UTC()
	out := &Posting{
		ID:            uuid.NewString(),
		AccountID:     from.ID,
		OwnerID:       from.OwnerID,
		Amount:        amount,
		Kind:          PostingTransfer,
		PeerAccountID: to.ID,
		Timestamp:     at,
		CreatedAt:     now,
	}
	in := &Posting{
		ID:            uuid.NewString(),
		AccountID:     to.ID,
		OwnerID:       to.OwnerID,
		Amount:        amount,
		Kind:          PostingTransfer,
		PeerAccountID: from.ID,
		Timestamp:     at,
		CreatedAt:     now,
	}
	return out, in
}
