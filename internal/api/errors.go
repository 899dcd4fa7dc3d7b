package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		invalid     *domain.InvalidQueryError
		denied      *domain.DeniedError
		unavailable *domain.EngineUnavailableError
		rejected    *domain.EngineRejectedError
		timeout     *domain.TimeoutError
		exhausted   *domain.RetriesExhaustedError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &denied):
		return http.StatusTooManyRequests
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &exhausted):
		return http.StatusBadGateway
	case errors.As(err, &unavailable):
		return http.StatusBadGateway
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// setRetryAfter adds a Retry-After header for denial responses carrying a hint.
func setRetryAfter(w http.ResponseWriter, err error) {
	var denied *domain.DeniedError
	if errors.As(err, &denied) && denied.RetryAfter > 0 {
		secs := int(denied.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
