package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/money"
)

// maxCASAttempts bounds the optimistic-concurrency retry loop. Each
// attempt is side-effect free until the compare-and-swap lands, so
// retrying is always safe; the bound keeps contention loops finite.
const maxCASAttempts = 5

// AccountLedger executes single-account money movements under optimistic
// concurrency. It is the only writer of Account.Balance and
// Account.Version outside the transfer coordinator.
type AccountLedger struct {
	store     Store
	locks     *lockTable
	observers []PostingObserver
	logger    *slog.Logger
}

// NewAccountLedger creates an account ledger over the given store.
func NewAccountLedger(store Store, logger *slog.Logger) *AccountLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountLedger{store: store, locks: newLockTable(), logger: logger}
}

// Observe registers an observer called synchronously after every durable
// posting append. Observers run outside the store's atomic unit; they
// maintain their own records under their own concurrency control.
func (l *AccountLedger) Observe(o PostingObserver) {
	l.observers = append(l.observers, o)
}

// Deposit adds amount to the account's balance and appends an INCOME
// posting against categoryID.
func (l *AccountLedger) Deposit(ctx context.Context, ownerID, accountID, categoryID string, amount decimal.Decimal, at time.Time) (*Account, *Posting, error) {
	return l.apply(ctx, ownerID, accountID, categoryID, amount, at, PostingIncome)
}

// Withdraw subtracts amount from the account's balance and appends an
// EXPENSE posting against categoryID. Balance-protected kinds fail with
// ErrInsufficientFunds before anything is written.
func (l *AccountLedger) Withdraw(ctx context.Context, ownerID, accountID, categoryID string, amount decimal.Decimal, at time.Time) (*Account, *Posting, error) {
	return l.apply(ctx, ownerID, accountID, categoryID, amount, at, PostingExpense)
}

// Balance returns the current balance. Read-only; relies on the store's
// own read consistency.
func (l *AccountLedger) Balance(ctx context.Context, ownerID, accountID string) (decimal.Decimal, error) {
	a, err := l.getOwned(ctx, ownerID, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// Postings lists the account's posting history, newest last.
func (l *AccountLedger) Postings(ctx context.Context, ownerID, accountID string) ([]*Posting, error) {
	if _, err := l.getOwned(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return l.store.PostingsByAccount(ctx, accountID)
}

func (l *AccountLedger) apply(ctx context.Context, ownerID, accountID, categoryID string, amount decimal.Decimal, at time.Time, kind PostingKind) (*Account, *Posting, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}
	if categoryID == "" {
		return nil, nil, &ValidationError{Field: "category_id", Reason: "required for income and expense postings"}
	}
	amount = money.Normalize(amount)
	if at.IsZero() {
		at = time.Now().UTC()
	}

	mu := l.locks.acquire(accountID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		account, err := l.getOwned(ctx, ownerID, accountID)
		if err != nil {
			return nil, nil, err
		}

		newBalance := account.Balance.Add(amount)
		if kind == PostingExpense {
			newBalance = account.Balance.Sub(amount)
			if account.Kind.BalanceProtected() && newBalance.Sign() < 0 {
				return nil, nil, fmt.Errorf("withdraw %s from account %s: %w", amount.StringFixed(2), accountID, ErrInsufficientFunds)
			}
		}

		posting := &Posting{
			ID:         uuid.NewString(),
			AccountID:  account.ID,
			OwnerID:    account.OwnerID,
			CategoryID: categoryID,
			Amount:     amount,
			Kind:       kind,
			Timestamp:  at,
			CreatedAt:  time.Now().UTC(),
		}

		updated, err := l.store.ApplyPosting(ctx, account.ID, account.Version, newBalance, posting)
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				if sleepErr := backoff(ctx, attempt); sleepErr != nil {
					return nil, nil, sleepErr
				}
				continue
			}
			return nil, nil, fmt.Errorf("failed to apply posting: %w", err)
		}

		l.notify(ctx, posting)
		return updated, posting, nil
	}

	l.logger.Warn("cas retries exhausted", "account_id", accountID, "kind", string(kind))
	return nil, nil, fmt.Errorf("account %s: %w", accountID, ErrConflict)
}

func (l *AccountLedger) getOwned(ctx context.Context, ownerID, accountID string) (*Account, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	// Ownership mismatch is reported as not-found so existence is not
	// leaked across owners.
	if a.OwnerID != ownerID {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

func (l *AccountLedger) notify(ctx context.Context, p *Posting) {
	for _, o := range l.observers {
		if err := o.PostingAppended(ctx, p); err != nil {
			l.logger.Error("posting observer failed", "posting_id", p.ID, "error", err)
		}
	}
}

// backoff sleeps between compare-and-swap attempts, honoring caller
// cancellation so a timed-out operation aborts with no partial mutation.
func backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		return nil
	}
}
