package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/auth"
	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/money"
	"github.com/example/fintrack/internal/security"
)

// LedgerService is the slice of the ledger facade the handlers consume.
type LedgerService interface {
	CreateAccount(ctx context.Context, req ledger.CreateAccountRequest) (*ledger.Account, error)
	GetAccount(ctx context.Context, ownerID, accountID string) (*ledger.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]*ledger.Account, error)
	Deposit(ctx context.Context, req ledger.MovementRequest) (*ledger.Account, error)
	Withdraw(ctx context.Context, req ledger.MovementRequest) (*ledger.Account, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.Posting, *ledger.Posting, error)
	GetBalance(ctx context.Context, ownerID, accountID string) (decimal.Decimal, error)
	ListPostings(ctx context.Context, ownerID, accountID string) ([]*ledger.Posting, error)
	RecomputeBudgetSpent(ctx context.Context, ownerID, budgetID string) (decimal.Decimal, error)
	ResetBudgetSpent(ctx context.Context, ownerID, budgetID string) error
}

// CategoryService is the slice of the category registry the handlers
// consume.
type CategoryService interface {
	Create(ctx context.Context, req category.CreateRequest) (*category.Category, error)
	List(ctx context.Context, ownerID string) ([]*category.Category, error)
}

// BudgetService is the slice of the budget aggregator the handlers
// consume.
type BudgetService interface {
	Create(ctx context.Context, req budget.CreateRequest) (*budget.Budget, error)
	Get(ctx context.Context, ownerID, budgetID string) (*budget.Budget, error)
	List(ctx context.Context, ownerID string) ([]*budget.Budget, error)
}

func owner(r *http.Request) string {
	id, _ := auth.IdentityFromContext(r.Context())
	if id == nil {
		return ""
	}
	return id.OwnerID
}

type createAccountRequest struct {
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance,omitempty"`
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		initial := decimal.Zero
		if req.InitialBalance != "" {
			var err error
			initial, err = money.Parse(req.InitialBalance)
			if err != nil {
				writeDomainError(w, r, &ledger.ValidationError{Field: "initial_balance", Reason: err.Error()})
				return
			}
		}

		account, err := deps.Ledger.CreateAccount(r.Context(), ledger.CreateAccountRequest{
			OwnerID:        owner(r),
			Kind:           ledger.AccountKind(req.Kind),
			Name:           req.Name,
			Currency:       req.Currency,
			InitialBalance: initial,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, account)
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := deps.Ledger.GetAccount(r.Context(), owner(r), chi.URLParam(r, "account_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, account)
	}
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Ledger.ListAccounts(r.Context(), owner(r))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"accounts": accounts})
	}
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "account_id")
		bal, err := deps.Ledger.GetBalance(r.Context(), owner(r), accountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, balanceResponse{
			AccountID: accountID,
			Balance:   bal.StringFixed(money.FractionDigits),
		})
	}
}

func handleListPostings(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postings, err := deps.Ledger.ListPostings(r.Context(), owner(r), chi.URLParam(r, "account_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"postings": postings})
	}
}

type movementRequest struct {
	AccountID  string `json:"account_id"`
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Timestamp  string `json:"timestamp,omitempty"`
}

type movementHandler func(ctx context.Context, req ledger.MovementRequest) (*ledger.Account, error)

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return handleMovement(deps.Ledger.Deposit)
}

func handleWithdraw(deps Dependencies) http.HandlerFunc {
	return handleMovement(deps.Ledger.Withdraw)
}

func handleMovement(move movementHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req movementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := money.Parse(req.Amount)
		if err != nil {
			writeDomainError(w, r, &ledger.ValidationError{Field: "amount", Reason: err.Error()})
			return
		}
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		account, err := move(r.Context(), ledger.MovementRequest{
			OwnerID:    owner(r),
			AccountID:  req.AccountID,
			CategoryID: req.CategoryID,
			Amount:     amount,
			Timestamp:  ts,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, account)
	}
}

type transferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Timestamp     string `json:"timestamp,omitempty"`
}

type transferResponse struct {
	Out *ledger.Posting `json:"out"`
	In  *ledger.Posting `json:"in"`
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := money.Parse(req.Amount)
		if err != nil {
			writeDomainError(w, r, &ledger.ValidationError{Field: "amount", Reason: err.Error()})
			return
		}
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		out, in, err := deps.Ledger.Transfer(r.Context(), ledger.TransferRequest{
			OwnerID:       owner(r),
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        amount,
			Timestamp:     ts,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transferResponse{Out: out, In: in})
	}
}

type createCategoryRequest struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	ParentID string `json:"parent_id,omitempty"`
}

func handleCreateCategory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCategoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		c, err := deps.Categories.Create(r.Context(), category.CreateRequest{
			OwnerID:  owner(r),
			ParentID: req.ParentID,
			Name:     req.Name,
			Kind:     category.Kind(req.Kind),
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, c)
	}
}

func handleListCategories(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := deps.Categories.List(r.Context(), owner(r))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"categories": categories})
	}
}

type createBudgetRequest struct {
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Period     string `json:"period"`
}

func handleCreateBudget(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBudgetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := money.Parse(req.Amount)
		if err != nil {
			writeDomainError(w, r, &ledger.ValidationError{Field: "amount", Reason: err.Error()})
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			writeDomainError(w, r, &ledger.ValidationError{Field: "start_date", Reason: "must be RFC 3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			writeDomainError(w, r, &ledger.ValidationError{Field: "end_date", Reason: "must be RFC 3339"})
			return
		}

		b, err := deps.Budgets.Create(r.Context(), budget.CreateRequest{
			OwnerID:    owner(r),
			CategoryID: req.CategoryID,
			Amount:     amount,
			StartDate:  start,
			EndDate:    end,
			Period:     budget.Period(req.Period),
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, budgetView(b))
	}
}

func handleGetBudget(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Budgets.Get(r.Context(), owner(r), chi.URLParam(r, "budget_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, budgetView(b))
	}
}

func handleListBudgets(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		budgets, err := deps.Budgets.List(r.Context(), owner(r))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		views := make([]map[string]any, len(budgets))
		for i, b := range budgets {
			views[i] = budgetView(b)
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"budgets": views})
	}
}

type recomputeResponse struct {
	BudgetID string `json:"budget_id"`
	Spent    string `json:"spent"`
}

func handleRecomputeBudget(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		budgetID := chi.URLParam(r, "budget_id")
		spent, err := deps.Ledger.RecomputeBudgetSpent(r.Context(), owner(r), budgetID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, recomputeResponse{
			BudgetID: budgetID,
			Spent:    spent.StringFixed(money.FractionDigits),
		})
	}
}

func handleResetBudget(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		budgetID := chi.URLParam(r, "budget_id")
		if err := deps.Ledger.ResetBudgetSpent(r.Context(), owner(r), budgetID); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"budget_id": budgetID, "reset": true})
	}
}

// budgetView flattens the derived fields next to the stored ones.
func budgetView(b *budget.Budget) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"category_id": b.CategoryID,
		"amount":      b.Amount.StringFixed(money.FractionDigits),
		"spent":       b.Spent.StringFixed(money.FractionDigits),
		"start_date":  b.StartDate.Format(time.RFC3339),
		"end_date":    b.EndDate.Format(time.RFC3339),
		"period":      string(b.Period),
		"exceeded":    b.Exceeded(),
		"utilization": b.Utilization().StringFixed(money.FractionDigits),
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: "timestamp", Reason: "must be RFC 3339"}
	}
	return ts, nil
}
