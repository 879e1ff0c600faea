// Package memory is the in-memory implementation of the durable-store
// contracts. It is the default backend and the one the test suites run
// against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
)

// Store keeps every record behind one mutex, which trivially gives the
// atomicity the ledger contract asks for: a compare-and-swap plus
// posting append, or a two-account transfer, commits entirely or not
// at all.
type Store struct {
	mu         sync.Mutex
	accounts   map[string]*ledger.Account
	postings   []*ledger.Posting
	budgets    map[string]*budget.Budget
	categories map[string]*category.Category
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*ledger.Account),
		budgets:    make(map[string]*budget.Budget),
		categories: make(map[string]*category.Category),
	}
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ budget.Store   = (*Store)(nil)
	_ category.Store = (*Store)(nil)
)

// GetAccount returns a copy so callers can never mutate stored state.
func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ApplyPosting(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal, p *ledger.Posting) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if a.Version != expectedVersion {
		return nil, ledger.ErrVersionMismatch
	}

	a.Balance = newBalance
	a.Version++

	pc := *p
	s.postings = append(s.postings, &pc)

	cp := *a
	return &cp, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, u ledger.TransferUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[u.FromID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	to, ok := s.accounts[u.ToID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	// Both versions must hold before anything is written.
	if from.Version != u.FromVersion || to.Version != u.ToVersion {
		return ledger.ErrVersionMismatch
	}

	from.Balance = u.FromBalance
	from.Version++
	to.Balance = u.ToBalance
	to.Version++

	out := *u.Out
	in := *u.In
	s.postings = append(s.postings, &out, &in)
	return nil
}

func (s *Store) PostingsByAccount(ctx context.Context, accountID string) ([]*ledger.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Posting
	for _, p := range s.postings {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) PostingsByCategory(ctx context.Context, ownerID, categoryID string, from, to time.Time) ([]*ledger.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Posting
	for _, p := range s.postings {
		if p.OwnerID != ownerID || p.CategoryID != categoryID {
			continue
		}
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[id]
	if !ok {
		return nil, budget.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) CreateBudget(ctx context.Context, b *budget.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.budgets[b.ID] = &cp
	return nil
}

func (s *Store) ListBudgets(ctx context.Context, ownerID string) ([]*budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*budget.Budget
	for _, b := range s.budgets {
		if ownerID == "" || b.OwnerID == ownerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindBudgets(ctx context.Context, ownerID, categoryID string, at time.Time) ([]*budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*budget.Budget
	for _, b := range s.budgets {
		if b.OwnerID != ownerID || b.CategoryID != categoryID {
			continue
		}
		if at.Before(b.StartDate) || at.After(b.EndDate) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetSpent(ctx context.Context, id string, expectedVersion int64, spent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[id]
	if !ok {
		return budget.ErrNotFound
	}
	if b.Version != expectedVersion {
		return ledger.ErrVersionMismatch
	}

	b.Spent = spent
	b.Version++
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, category.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *category.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*category.Category
	for _, c := range s.categories {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
