package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/estatia/backend/internal/invoker"
	"github.com/estatia/backend/internal/middleware"
	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/wallet"
)

const maxInputBytes = 1 << 20 // 1MB tool input ceiling

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

// writeInvokeError maps the invoker error taxonomy to HTTP responses.
// Denials carry the specific reason; execution failures get a generic
// retry message plus confirmation that no credits were charged.
func writeInvokeError(w http.ResponseWriter, err error) {
	var insufficient *wallet.InsufficientBalanceError
	var remoteErr *invoker.RemoteExecutionError

	switch {
	case errors.Is(err, invoker.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "tool_not_found", err.Error())
	case errors.Is(err, invoker.ErrToolDisabled):
		writeError(w, http.StatusForbidden, "tool_disabled",
			"this tool is currently disabled by an administrator")
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":     "insufficient_credits",
			"message":   insufficient.Error(),
			"required":  insufficient.Required,
			"balance":   insufficient.Balance,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.Is(err, invoker.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, invoker.ErrWalletSuspended):
		writeError(w, http.StatusForbidden, "wallet_suspended",
			"your wallet is suspended; contact support")
	case errors.Is(err, invoker.ErrDailyLimitReached):
		writeError(w, http.StatusTooManyRequests, "daily_limit_reached", err.Error())
	case errors.As(err, &remoteErr):
		writeError(w, http.StatusBadGateway, "remote_execution_error",
			"the tool failed to run; your credits were not charged — please try again")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

// HandleInvokeTool runs a credit-gated tool call for the authenticated user.
func HandleInvokeTool(ti *invoker.ToolInvoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.GetUserID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		toolName := mux.Vars(r)["toolName"]

		input, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
			return
		}
		if len(input) > 0 && !json.Valid(input) {
			writeError(w, http.StatusBadRequest, "invalid_body", "tool input must be valid JSON")
			return
		}

		result, err := ti.Invoke(r.Context(), userID, toolName, input)
		if err != nil {
			writeInvokeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// HandleCheckAccess is the read-only pre-flight used by the UI to enable or
// disable tool buttons. No side effects, no usage log entry.
func HandleCheckAccess(ti *invoker.ToolInvoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.GetUserID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		toolName := mux.Vars(r)["toolName"]

		decision, err := ti.CheckAccess(r.Context(), userID, toolName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, decision)
	}
}

// HandleListTools lists the catalog for display.
func HandleListTools(tr *registry.ToolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := tr.ListAll()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tools": tools,
			"count": len(tools),
		})
	}
}
