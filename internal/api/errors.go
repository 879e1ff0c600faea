package api

import (
	"errors"
	"net/http"

	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/security"
)

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	var cverr *category.ValidationError
	var cerr *ledger.ConsistencyError

	switch {
	case errors.As(err, &verr):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.As(err, &cverr):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", cverr.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, category.ErrNotFound),
		errors.Is(err, budget.ErrNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "insufficient_funds")
	case errors.Is(err, ledger.ErrConflict):
		security.WriteJSONError(w, r, http.StatusConflict, "conflict")
	case errors.As(err, &cerr):
		security.WriteJSONError(w, r, http.StatusInternalServerError, "consistency_error")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
