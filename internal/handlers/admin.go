package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/estatia/backend/internal/admin"
	"github.com/estatia/backend/internal/registry"
)

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "tool_not_found", err.Error())
	case errors.Is(err, registry.ErrInvalidCost):
		writeError(w, http.StatusBadRequest, "invalid_cost", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// HandleSetToolEnabled flips a tool's kill switch.
// PUT /api/v1/admin/tools/{toolName}/enabled {"enabled": false}
func HandleSetToolEnabled(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolName := mux.Vars(r)["toolName"]

		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}

		if err := cs.SetEnabled(toolName, req.Enabled); err != nil {
			writeAdminError(w, err)
			return
		}

		log.Printf("[ADMIN] Tool %s enabled=%t", toolName, req.Enabled)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tool":    toolName,
			"enabled": req.Enabled,
		})
	}
}

// HandleSetToolCost reprices a tool. Takes effect on the next invocation.
// PUT /api/v1/admin/tools/{toolName}/cost {"credit_cost": 40}
func HandleSetToolCost(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolName := mux.Vars(r)["toolName"]

		var req struct {
			CreditCost int `json:"credit_cost"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}

		if err := cs.SetCreditCost(toolName, req.CreditCost); err != nil {
			writeAdminError(w, err)
			return
		}

		log.Printf("[ADMIN] Tool %s credit_cost=%d", toolName, req.CreditCost)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tool":        toolName,
			"credit_cost": req.CreditCost,
		})
	}
}

// HandleSetToolDailyLimit caps per-user daily calls. Zero removes the cap.
// PUT /api/v1/admin/tools/{toolName}/daily-limit {"daily_limit": 25}
func HandleSetToolDailyLimit(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolName := mux.Vars(r)["toolName"]

		var req struct {
			DailyLimit int `json:"daily_limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}
		if req.DailyLimit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "daily_limit must be >= 0")
			return
		}

		if err := cs.SetDailyLimit(toolName, req.DailyLimit); err != nil {
			writeAdminError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tool":        toolName,
			"daily_limit": req.DailyLimit,
		})
	}
}

// HandleSuspendWallet freezes a user's wallet pending fraud review.
// POST /api/v1/admin/wallets/{userID}/suspend
func HandleSuspendWallet(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		if err := cs.SuspendWallet(r.Context(), userID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		log.Printf("[ADMIN] ⚠️ Suspended wallet for user %s", userID)
		writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "suspended"})
	}
}

// HandleReactivateWallet lifts a suspension.
// POST /api/v1/admin/wallets/{userID}/reactivate
func HandleReactivateWallet(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		if err := cs.ReactivateWallet(r.Context(), userID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "active"})
	}
}

// HandleUsageSummary aggregates the usage log for one tool over a window.
// GET /api/v1/admin/usage/{toolName}?from=RFC3339&to=RFC3339 (default: last 24h)
func HandleUsageSummary(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolName := mux.Vars(r)["toolName"]

		to := time.Now().UTC()
		from := to.Add(-24 * time.Hour)
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_range", "from must be RFC3339")
				return
			}
			from = t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_range", "to must be RFC3339")
				return
			}
			to = t
		}
		if !from.Before(to) {
			writeError(w, http.StatusBadRequest, "invalid_range", "from must precede to")
			return
		}

		summary, err := cs.GetUsageSummary(r.Context(), toolName, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// HandleListAlerts returns recent alerts, newest first.
// GET /api/v1/admin/alerts
func HandleListAlerts(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts := cs.Alerts().List()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alerts":         alerts,
			"count":          len(alerts),
			"unacknowledged": cs.Alerts().UnacknowledgedCount(),
		})
	}
}

// HandleAcknowledgeAlert marks an alert as seen.
// POST /api/v1/admin/alerts/{alertID}/ack
func HandleAcknowledgeAlert(cs *admin.ControlSurface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID := mux.Vars(r)["alertID"]

		if !cs.Alerts().Acknowledge(alertID) {
			writeError(w, http.StatusNotFound, "alert_not_found", "no such alert")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"alert_id": alertID, "status": "acknowledged"})
	}
}
