// Package api is the HTTP surface over the ledger, category and budget
// services.
package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/fintrack/internal/auth"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/pkg/audit"
)

// Auditor receives one line per mutating request.
type Auditor interface {
	Append(payload string) *audit.Entry
}

// Dependencies carries everything the router wires together.
type Dependencies struct {
	Logger    *slog.Logger
	Validator *auth.Validator

	Ledger     LedgerService
	Categories CategoryService
	Budgets    BudgetService

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// NewRouter builds the full middleware chain and route table.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	validators, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	onAuthErr := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimit(deps.RateLimiter, rateLimitKey))
	}
	if deps.Auditor != nil {
		r.Use(AuditMutations(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Validator, onAuthErr))

		r.Route("/accounts", func(r chi.Router) {
			read := r.With(auth.RequireScopes(onAuthErr, "accounts:read"))
			read.Get("/", handleListAccounts(deps))
			read.Get("/{account_id}", handleGetAccount(deps))
			read.Get("/{account_id}/balance", handleBalance(deps))
			read.Get("/{account_id}/postings", handleListPostings(deps))

			r.With(auth.RequireScopes(onAuthErr, "accounts:write"), validators.createAccount.Middleware).
				Post("/", handleCreateAccount(deps))
		})

		r.Route("/ledger", func(r chi.Router) {
			write := func(v *security.JSONSchemaValidator) chi.Router {
				return r.With(auth.RequireScopes(onAuthErr, "ledger:write"), v.Middleware)
			}
			write(validators.movement).Post("/deposit", handleDeposit(deps))
			write(validators.movement).Post("/withdraw", handleWithdraw(deps))
			write(validators.transfer).Post("/transfer", handleTransfer(deps))
		})

		r.Route("/categories", func(r chi.Router) {
			r.With(auth.RequireScopes(onAuthErr, "categories:read")).Get("/", handleListCategories(deps))
			r.With(auth.RequireScopes(onAuthErr, "categories:write"), validators.createCategory.Middleware).
				Post("/", handleCreateCategory(deps))
		})

		r.Route("/budgets", func(r chi.Router) {
			read := r.With(auth.RequireScopes(onAuthErr, "budgets:read"))
			read.Get("/", handleListBudgets(deps))
			read.Get("/{budget_id}", handleGetBudget(deps))

			write := r.With(auth.RequireScopes(onAuthErr, "budgets:write"))
			write.With(validators.createBudget.Middleware).Post("/", handleCreateBudget(deps))
			write.Post("/{budget_id}/recompute", handleRecomputeBudget(deps))
			write.Post("/{budget_id}/reset", handleResetBudget(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

// rateLimitKey buckets by owner once authenticated, by client IP before.
func rateLimitKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return "owner:" + id.OwnerID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
