package httptransport

import (
	"encoding/json"
	"net/http"

	"casino-settlement/internal/app/deposit"

	"github.com/go-chi/chi/v5"
)

type DepositHandlers struct {
	svc *deposit.Service
}

func NewDepositHandlers(svc *deposit.Service) *DepositHandlers {
	return &DepositHandlers{svc: svc}
}

func (h *DepositHandlers) CreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in deposit.SessionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.CreateSession(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *DepositHandlers) GetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.svc.GetSession(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "provider_tx_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, sess)
	}
}

// Webhook answers 200 for every business outcome so providers only retry
// deliveries that failed for infrastructure reasons.
func (h *DepositHandlers) Webhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in deposit.Webhook
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.HandleWebhook(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}
