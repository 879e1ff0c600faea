package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/money"
)

// maxCASAttempts bounds the spent-total retry loop, independent of the
// account ledger's own retry budget.
const maxCASAttempts = 5

// Aggregator is the only writer of Budget.Spent. It listens for durably
// appended postings and keeps every matching budget's total current.
type Aggregator struct {
	store   Store
	journal ledger.Journal
	logger  *slog.Logger

	mu     sync.Mutex
	states map[string]*budgetState
}

// budgetState serializes the incremental updater against recomputes for
// one budget. A posting is durably appended before its observers run, so
// a recompute landing in that gap already folds the posting from the
// journal; folded remembers those ids so the late notification is not
// applied a second time.
type budgetState struct {
	mu     sync.Mutex
	folded map[string]struct{}
}

// NewAggregator creates an aggregator over the budget store and the
// posting journal.
func NewAggregator(store Store, journal ledger.Journal, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:   store,
		journal: journal,
		logger:  logger,
		states:  make(map[string]*budgetState),
	}
}

func (a *Aggregator) state(budgetID string) *budgetState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[budgetID]
	if !ok {
		st = &budgetState{folded: make(map[string]struct{})}
		a.states[budgetID] = st
	}
	return st
}

// CreateRequest carries the fields for a new budget.
type CreateRequest struct {
	OwnerID    string
	CategoryID string
	Amount     decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
	Period     Period
}

// Create validates and persists a new budget with a zero spent total.
func (a *Aggregator) Create(ctx context.Context, req CreateRequest) (*Budget, error) {
	if req.OwnerID == "" {
		return nil, &ledger.ValidationError{Field: "owner_id", Reason: "required"}
	}
	if req.CategoryID == "" {
		return nil, &ledger.ValidationError{Field: "category_id", Reason: "required"}
	}
	if err := money.ValidatePositive(req.Amount); err != nil {
		return nil, &ledger.ValidationError{Field: "amount", Reason: err.Error()}
	}
	if !req.Period.Valid() {
		return nil, &ledger.ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", req.Period)}
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return nil, &ledger.ValidationError{Field: "end_date", Reason: "window must be a non-empty date range"}
	}

	b := &Budget{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		CategoryID: req.CategoryID,
		Amount:     money.Normalize(req.Amount),
		Spent:      decimal.Zero,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Period:     req.Period,
		Version:    1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateBudget(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}
	return b, nil
}

// Get returns the caller's budget, not-found on ownership mismatch.
func (a *Aggregator) Get(ctx context.Context, ownerID, budgetID string) (*Budget, error) {
	return a.getOwned(ctx, ownerID, budgetID)
}

// List returns all budgets belonging to ownerID.
func (a *Aggregator) List(ctx context.Context, ownerID string) ([]*Budget, error) {
	return a.store.ListBudgets(ctx, ownerID)
}

// PostingAppended implements ledger.PostingObserver. For an EXPENSE
// posting it folds the amount into every budget whose category and
// window match, each under its own compare-and-swap.
func (a *Aggregator) PostingAppended(ctx context.Context, p *ledger.Posting) error {
	if p.Kind != ledger.PostingExpense || p.CategoryID == "" {
		return nil
	}

	budgets, err := a.store.FindBudgets(ctx, p.OwnerID, p.CategoryID, p.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to find budgets for posting %s: %w", p.ID, err)
	}

	for _, b := range budgets {
		if err := a.addSpent(ctx, b.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// addSpent applies one posting to one budget, re-reading and retrying on
// version conflicts. The incremental step runs through the same reducer
// as the full recomputation. A posting already folded by an intervening
// recompute is consumed without applying it again.
func (a *Aggregator) addSpent(ctx context.Context, budgetID string, p *ledger.Posting) error {
	st := a.state(budgetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.folded[p.ID]; ok {
		delete(st.folded, p.ID)
		return nil
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		b, err := a.store.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}

		delta := reduce(b, []*ledger.Posting{p})
		if delta.IsZero() {
			return nil
		}

		err = a.store.SetSpent(ctx, b.ID, b.Version, b.Spent.Add(delta))
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionMismatch) {
			return fmt.Errorf("failed to update budget %s: %w", budgetID, err)
		}
		if sleepErr := casBackoff(ctx, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("budget %s: %w", budgetID, ledger.ErrConflict)
}

// RecomputeSpent re-derives the spent total by folding the journal from
// scratch. Disagreement with the incrementally maintained value is a
// consistency error: logged for offline repair, then overwritten with
// the recomputed truth.
func (a *Aggregator) RecomputeSpent(ctx context.Context, ownerID, budgetID string) (decimal.Decimal, error) {
	st := a.state(budgetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		b, err := a.getOwned(ctx, ownerID, budgetID)
		if err != nil {
			return decimal.Zero, err
		}

		postings, err := a.journal.PostingsByCategory(ctx, b.OwnerID, b.CategoryID, b.StartDate, b.EndDate)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load postings for budget %s: %w", budgetID, err)
		}

		computed := reduce(b, postings)
		if !money.Equal(computed, b.Spent) {
			cerr := &ledger.ConsistencyError{Entity: "budget", ID: b.ID, Stored: b.Spent, Computed: computed}
			a.logger.Error("budget spent drifted from journal", "budget_id", b.ID, "error", cerr)
		}

		err = a.store.SetSpent(ctx, b.ID, b.Version, computed)
		if err == nil {
			st.folded = make(map[string]struct{}, len(postings))
			for _, p := range postings {
				if qualifies(p, b) {
					st.folded[p.ID] = struct{}{}
				}
			}
			return computed, nil
		}
		if !errors.Is(err, ledger.ErrVersionMismatch) {
			return decimal.Zero, fmt.Errorf("failed to store recomputed spent: %w", err)
		}
		if sleepErr := casBackoff(ctx, attempt); sleepErr != nil {
			return decimal.Zero, sleepErr
		}
	}
	return decimal.Zero, fmt.Errorf("budget %s: %w", budgetID, ledger.ErrConflict)
}

// Verify recomputes without writing and returns the stored and derived
// totals. Used by the offline audit command.
func (a *Aggregator) Verify(ctx context.Context, budgetID string) (stored, computed decimal.Decimal, err error) {
	b, err := a.store.GetBudget(ctx, budgetID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	postings, err := a.journal.PostingsByCategory(ctx, b.OwnerID, b.CategoryID, b.StartDate, b.EndDate)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return b.Spent, reduce(b, postings), nil
}

// ResetSpent zeroes the spent total. Until the next qualifying posting
// or recompute the stored value is no longer re-derivable from history.
func (a *Aggregator) ResetSpent(ctx context.Context, ownerID, budgetID string) error {
	st := a.state(budgetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		b, err := a.getOwned(ctx, ownerID, budgetID)
		if err != nil {
			return err
		}

		err = a.store.SetSpent(ctx, b.ID, b.Version, decimal.Zero)
		if err == nil {
			a.logger.Info("budget spent reset", "budget_id", b.ID)
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionMismatch) {
			return fmt.Errorf("failed to reset budget %s: %w", budgetID, err)
		}
		if sleepErr := casBackoff(ctx, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("budget %s: %w", budgetID, ledger.ErrConflict)
}

func (a *Aggregator) getOwned(ctx context.Context, ownerID, budgetID string) (*Budget, error) {
	b, err := a.store.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return b, nil
}

func casBackoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		return nil
	}
}
