package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/money"
)

// CategoryResolver resolves a category for the requesting owner. The
// category registry satisfies this.
type CategoryResolver interface {
	Resolve(ctx context.Context, ownerID, id string) (*category.Category, error)
}

// BudgetOps is the slice of the budget aggregator the facade exposes to
// the request layer.
type BudgetOps interface {
	RecomputeSpent(ctx context.Context, ownerID, budgetID string) (decimal.Decimal, error)
	ResetSpent(ctx context.Context, ownerID, budgetID string) error
}

// Service is the single entry point the request layer consumes. Every
// mutation checks the caller-supplied owner against the record's owner
// before proceeding; the ledger never infers ownership.
type Service struct {
	store      Store
	ledger     *AccountLedger
	transfers  *TransferCoordinator
	categories CategoryResolver
	budgets    BudgetOps
	logger     *slog.Logger
}

// NewService wires the facade. budgets may be nil when the deployment
// runs without budget tracking.
func NewService(store Store, ledger *AccountLedger, transfers *TransferCoordinator, categories CategoryResolver, budgets BudgetOps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		ledger:     ledger,
		transfers:  transfers,
		categories: categories,
		budgets:    budgets,
		logger:     logger,
	}
}

// CreateAccountRequest carries the fields for a new account.
type CreateAccountRequest struct {
	OwnerID        string
	Kind           AccountKind
	Name           string
	Currency       string
	InitialBalance decimal.Decimal
}

// CreateAccount validates and persists a new account. The initial
// balance must be non-negative regardless of kind.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if req.OwnerID == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "required"}
	}
	if !req.Kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown account kind %q", req.Kind)}
	}
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	if !validCurrency(req.Currency) {
		return nil, &ValidationError{Field: "currency", Reason: "must be a 3-letter uppercase code"}
	}
	if req.InitialBalance.Sign() < 0 {
		return nil, &ValidationError{Field: "initial_balance", Reason: "must not be negative"}
	}
	if err := money.ValidateScale(req.InitialBalance); err != nil {
		return nil, &ValidationError{Field: "initial_balance", Reason: err.Error()}
	}

	account := &Account{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Kind:      req.Kind,
		Name:      req.Name,
		Balance:   money.Normalize(req.InitialBalance),
		Currency:  req.Currency,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account created", "account_id", account.ID, "kind", string(account.Kind))
	return account, nil
}

// GetAccount returns the caller's account. Accounts of other owners are
// reported as not found.
func (s *Service) GetAccount(ctx context.Context, ownerID, accountID string) (*Account, error) {
	return s.ledger.getOwned(ctx, ownerID, accountID)
}

// ListAccounts returns all accounts belonging to ownerID.
func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]*Account, error) {
	return s.store.ListAccounts(ctx, ownerID)
}

// MovementRequest carries a deposit or withdrawal.
type MovementRequest struct {
	OwnerID    string
	AccountID  string
	CategoryID string
	Amount     decimal.Decimal
	Timestamp  time.Time
}

// Deposit adds money to an account against an INCOME category.
func (s *Service) Deposit(ctx context.Context, req MovementRequest) (*Account, error) {
	if err := s.checkCategoryKind(ctx, req.OwnerID, req.CategoryID, category.KindIncome); err != nil {
		return nil, err
	}
	account, _, err := s.ledger.Deposit(ctx, req.OwnerID, req.AccountID, req.CategoryID, req.Amount, req.Timestamp)
	return account, err
}

// Withdraw removes money from an account against an EXPENSE category.
func (s *Service) Withdraw(ctx context.Context, req MovementRequest) (*Account, error) {
	if err := s.checkCategoryKind(ctx, req.OwnerID, req.CategoryID, category.KindExpense); err != nil {
		return nil, err
	}
	account, _, err := s.ledger.Withdraw(ctx, req.OwnerID, req.AccountID, req.CategoryID, req.Amount, req.Timestamp)
	return account, err
}

// TransferRequest carries a two-account transfer.
type TransferRequest struct {
	OwnerID       string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Timestamp     time.Time
}

// Transfer moves money between two of the caller's accounts and returns
// the two linked postings.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Posting, *Posting, error) {
	return s.transfers.Transfer(ctx, req.OwnerID, req.FromAccountID, req.ToAccountID, req.Amount, req.Timestamp)
}

// GetBalance returns the account's current balance.
func (s *Service) GetBalance(ctx context.Context, ownerID, accountID string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, ownerID, accountID)
}

// ListPostings returns the account's posting history.
func (s *Service) ListPostings(ctx context.Context, ownerID, accountID string) ([]*Posting, error) {
	return s.ledger.Postings(ctx, ownerID, accountID)
}

// RecomputeBudgetSpent re-derives a budget's spent total from the
// posting history.
func (s *Service) RecomputeBudgetSpent(ctx context.Context, ownerID, budgetID string) (decimal.Decimal, error) {
	if s.budgets == nil {
		return decimal.Zero, fmt.Errorf("budget tracking disabled")
	}
	return s.budgets.RecomputeSpent(ctx, ownerID, budgetID)
}

// ResetBudgetSpent zeroes a budget's spent total. This is administrative:
// the stored total stops being re-derivable until the next recompute.
func (s *Service) ResetBudgetSpent(ctx context.Context, ownerID, budgetID string) error {
	if s.budgets == nil {
		return fmt.Errorf("budget tracking disabled")
	}
	return s.budgets.ResetSpent(ctx, ownerID, budgetID)
}

func (s *Service) checkCategoryKind(ctx context.Context, ownerID, categoryID string, want category.Kind) error {
	if categoryID == "" {
		return &ValidationError{Field: "category_id", Reason: "required"}
	}
	c, err := s.categories.Resolve(ctx, ownerID, categoryID)
	if err != nil {
		return err
	}
	if c.Kind != want {
		return &ValidationError{Field: "category_id", Reason: fmt.Sprintf("category kind %s does not match posting kind", c.Kind)}
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
