package httptransport

import (
	"errors"
	"net/http"

	"casino-settlement/internal/errs"

	"github.com/rs/zerolog/log"
)

// writeError maps a service error to its status and wire code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrOperationInProgress):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrInsufficientFunds),
		errors.Is(err, errs.ErrCurrencyMismatch),
		errors.Is(err, errs.ErrAmountMismatch),
		errors.Is(err, errs.ErrRobotInactive):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrIdempotencyConflict),
		errors.Is(err, errs.ErrInvalidStateTransition):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidRequest),
		errors.Is(err, errs.ErrMissingIdempotencyKey):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		code = "internal_error"
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if errs.Retriable(err) {
		w.Header().Set("Retry-After", "1")
	}
	WriteHTTPError(w, status, code)
}
