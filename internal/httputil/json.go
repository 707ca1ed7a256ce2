package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GiorgiUbiria/secure_banking/internal/authz"
	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/workflow"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", zap.Error(err))
	}
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorResponse{Error: msg})
}

// WriteDomainError maps err to its status code. Internal errors are logged
// and hidden from the client.
func WriteDomainError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		logger.Log.Error("request failed", zap.Error(err))
		WriteError(w, code, "internal server error")
		return
	}

	retryable := ledger.IsRetryable(err)
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, code, ErrorResponse{Error: err.Error(), Retryable: retryable})
}

var statuses = []struct {
	err  error
	code int
}{
	{ledger.ErrLockTimeout, http.StatusServiceUnavailable},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidDirection, http.StatusBadRequest},
	{workflow.ErrInvalidPayload, http.StatusBadRequest},
	{workflow.ErrInvalidDecision, http.StatusBadRequest},
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{ledger.ErrInactiveAccount, http.StatusUnprocessableEntity},
	{ledger.ErrInactiveUser, http.StatusUnprocessableEntity},
	{ledger.ErrAccountNotOwned, http.StatusForbidden},
	{workflow.ErrUnauthorized, http.StatusForbidden},
	{authz.ErrForbidden, http.StatusForbidden},
	{ledger.ErrInvalidAccount, http.StatusNotFound},
	{workflow.ErrRequestNotFound, http.StatusNotFound},
	{workflow.ErrAlreadyResolved, http.StatusConflict},
	{workflow.ErrDuplicateRequest, http.StatusConflict},
	{ledger.ErrNotHeld, http.StatusConflict},
	{ledger.ErrUserNotFound, http.StatusNotFound},
}

func StatusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return http.StatusInternalServerError
}
