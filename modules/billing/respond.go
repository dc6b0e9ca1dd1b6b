package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lumispace/billing/pkg/billing"
)

// jsonResponse is the envelope for all module responses.
type jsonResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonResponse{Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal failures are retried by the caller; the detail stays
		// in the logs rather than the response body.
		msg = "internal error"
	}
	_ = json.NewEncoder(w).Encode(jsonResponse{Error: &errorDetail{Code: code, Message: msg}})
}

// classifyError maps service errors onto HTTP statuses. Client faults
// get 400 (the sender must not retry an unverifiable or malformed
// request), lookups that found nothing get 404, and transient failures
// get 500 so webhook deliveries are redelivered.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrUnauthenticated):
		return http.StatusBadRequest, "unauthenticated"
	case errors.Is(err, billing.ErrMalformedEvent):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, billing.ErrInvalidOwner):
		return http.StatusBadRequest, "invalid_owner"
	case errors.Is(err, billing.ErrMissingPriceID):
		return http.StatusBadRequest, "missing_price_id"
	case errors.Is(err, billing.ErrInvalidPromoCode):
		return http.StatusBadRequest, "invalid_promo_code"
	case errors.Is(err, billing.ErrListNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
