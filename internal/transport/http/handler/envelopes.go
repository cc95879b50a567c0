package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/otp-gateway/internal/application/otp"
	"github.com/otp-gateway/internal/domain"
)

// MessageEnvelope is the generic response wrapper. Code carries the
// machine-readable error code surfaced to calling services.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// DeliveryFailureEnvelope attaches per-channel diagnostics to a terminal
// delivery failure.
type DeliveryFailureEnvelope struct {
	Error    string                  `json:"error"`
	Code     string                  `json:"code"`
	Failures []domain.ChannelFailure `json:"failures"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, Code: "VALIDATION_ERROR"})
}

// httpError maps domain errors to HTTP status codes and error codes.
func httpError(w http.ResponseWriter, err error) {
	var de *otp.DeliveryError
	if errors.As(err, &de) {
		writeJSON(w, http.StatusBadGateway, DeliveryFailureEnvelope{
			Error:    "could not deliver the code on any channel",
			Code:     domain.ErrorCode(err),
			Failures: de.Failures,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoDeliveryMethod):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExpiredOrMissing):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMaxAttempts), errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrDeliveryFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, MessageEnvelope{Error: err.Error(), Code: domain.ErrorCode(err)})
}
