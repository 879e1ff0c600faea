// Package budget maintains per-category spending totals derived from
// the posting journal. The spent total is a cache: it is updated
// incrementally as postings append, and must always equal a from-scratch
// recomputation over the same history.
package budget

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/ledger"
)

// Period describes the recurrence a budget window was derived from.
type Period string

const (
	PeriodWeekly    Period = "WEEKLY"
	PeriodMonthly   Period = "MONTHLY"
	PeriodQuarterly Period = "QUARTERLY"
	PeriodYearly    Period = "YEARLY"
	PeriodCustom    Period = "CUSTOM"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly, PeriodCustom:
		return true
	}
	return false
}

// Budget caps spending against one category over a date window. Spent is
// owned exclusively by the aggregator.
type Budget struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	CategoryID string          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
	Spent      decimal.Decimal `json:"spent"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Period     Period          `json:"period"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Exceeded reports whether spending has passed the cap. Derived, never
// stored.
func (b *Budget) Exceeded() bool {
	return b.Spent.Cmp(b.Amount) > 0
}

// Utilization returns spent as a percentage of the cap, rounded to two
// places. A zero cap reports zero.
func (b *Budget) Utilization() decimal.Decimal {
	if b.Amount.IsZero() {
		return decimal.Zero
	}
	return b.Spent.Div(b.Amount).Mul(decimal.NewFromInt(100)).Round(2)
}

// ErrNotFound is returned when a budget does not exist or belongs to a
// different owner.
var ErrNotFound = errors.New("budget not found")

// Store is the durable view of budgets. SetSpent must be a
// compare-and-swap keyed on the budget's version, failing with
// ledger.ErrVersionMismatch when the version has moved.
type Store interface {
	GetBudget(ctx context.Context, id string) (*Budget, error)
	CreateBudget(ctx context.Context, b *Budget) error
	ListBudgets(ctx context.Context, ownerID string) ([]*Budget, error)
	// FindBudgets returns ownerID's budgets on categoryID whose window
	// contains at.
	FindBudgets(ctx context.Context, ownerID, categoryID string, at time.Time) ([]*Budget, error)
	SetSpent(ctx context.Context, id string, expectedVersion int64, spent decimal.Decimal) error
}

// qualifies is the single filter both the incremental updater and the
// full recomputation share, so the two can never drift: an EXPENSE
// posting on the budget's category, by the budget's owner, timestamped
// inside [StartDate, EndDate].
func qualifies(p *ledger.Posting, b *Budget) bool {
	if p.Kind != ledger.PostingExpense {
		return false
	}
	if p.CategoryID != b.CategoryID || p.OwnerID != b.OwnerID {
		return false
	}
	if p.Timestamp.Before(b.StartDate) || p.Timestamp.After(b.EndDate) {
		return false
	}
	return true
}

// reduce folds qualifying postings into a spent total.
func reduce(b *Budget, postings []*ledger.Posting) decimal.Decimal {
	total := decimal.Zero
	for _, p := range postings {
		if qualifies(p, b) {
			total = total.Add(p.Amount)
		}
	}
	return total
}
