package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps engine errors to HTTP problem responses.
// Validation and discount errors are caller mistakes; transition
// misuse is a conflict; concurrent modification asks the caller to
// reload and retry.
func RespondError(w http.ResponseWriter, err error) {
	var (
		invalidLine       *money.InvalidLineError
		ambiguousDiscount *money.AmbiguousDiscountError
		invalidAmount     *money.InvalidAmountError
		illegal           *docflow.IllegalTransitionError
		guard             *docflow.GuardViolationError
		locked            *docflow.DocumentLockedError
	)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.As(err, &invalidLine),
		errors.As(err, &ambiguousDiscount),
		errors.As(err, &invalidAmount),
		errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &illegal),
		errors.As(err, &guard),
		errors.As(err, &locked):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
