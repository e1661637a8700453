package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"casino-settlement/internal/app/settlement"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type AdminHandlers struct {
	db  Pinger
	svc *settlement.Service
}

func NewAdminHandlers(db Pinger, svc *settlement.Service) *AdminHandlers {
	return &AdminHandlers{db: db, svc: svc}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := h.db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "db": "down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "db": "up"})
	}
}

func (h *AdminHandlers) Adjust() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settlement.AdjustRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.Adjust(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

// Journal lists the tenant's journal across players.
func (h *AdminHandlers) Journal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := journalFilter(w, r)
		if !ok {
			return
		}
		listJournal(w, r, h.svc, f)
	}
}
