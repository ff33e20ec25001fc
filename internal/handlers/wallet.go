package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/estatia/backend/internal/events"
	"github.com/estatia/backend/internal/middleware"
	"github.com/estatia/backend/internal/wallet"
)

// HandleGetWallet returns the authenticated user's balance and status.
func HandleGetWallet(ws *wallet.WalletStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.GetUserID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}

		bal, err := ws.GetBalance(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, bal)
	}
}

type topUpRequest struct {
	Amount int    `json:"amount"`
	Source string `json:"source,omitempty"`
}

// HandleTopUpWallet credits the authenticated user's wallet. In production the
// amount is driven by a payment webhook; the endpoint also serves promo grants.
func HandleTopUpWallet(ws *wallet.WalletStore, bus events.EventEmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.GetUserID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}

		var req topUpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
			return
		}
		if req.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
			return
		}

		newBalance, err := ws.Credit(r.Context(), userID, req.Amount)
		if err != nil {
			if errors.Is(err, wallet.ErrInvalidAmount) {
				writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		log.Printf("[WALLET] 💰 Credited %d to user %s (balance now %d)", req.Amount, userID, newBalance)

		if bus != nil {
			bus.Emit(events.TypeWalletCredit, "/api/v1/wallet", userID, map[string]interface{}{
				"user_id":     userID,
				"amount":      req.Amount,
				"new_balance": newBalance,
				"source":      req.Source,
				"credited_at": time.Now().UTC().Format(time.RFC3339),
			})
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": userID,
			"balance": newBalance,
		})
	}
}
