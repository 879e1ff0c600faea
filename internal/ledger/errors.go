package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates the account does not exist or belongs
	// to a different owner. The two cases are deliberately not
	// distinguishable by callers.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds indicates a withdrawal or transfer would drive
	// a balance-protected account negative. Nothing was mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict indicates optimistic-concurrency retries were exhausted.
	// The operation had no effect and is safe to retry from the caller.
	ErrConflict = errors.New("too much contention on account")

	// ErrVersionMismatch is the store-level compare-and-swap failure. The
	// ledger retries it internally and never surfaces it past ErrConflict.
	ErrVersionMismatch = errors.New("record version mismatch")
)

// ValidationError reports malformed input. It is detected before any
// mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConsistencyError reports disagreement between a derived value and its
// from-scratch recomputation. It only ever indicates a bug and is logged
// for offline repair, never retried and never shown to a user.
type ConsistencyError struct {
	Entity   string
	ID       string
	Stored   decimal.Decimal
	Computed decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %s inconsistent: stored %s, recomputed %s",
		e.Entity, e.ID, e.Stored.StringFixed(2), e.Computed.StringFixed(2))
}
