package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"casino-settlement/internal/app/settlement"
	"casino-settlement/internal/rounds"
	"casino-settlement/internal/store"

	"github.com/go-chi/chi/v5"
)

type SettlementHandlers struct {
	svc    *settlement.Service
	rounds *rounds.Aggregator
}

func NewSettlementHandlers(svc *settlement.Service, agg *rounds.Aggregator) *SettlementHandlers {
	return &SettlementHandlers{svc: svc, rounds: agg}
}

func (h *SettlementHandlers) Settle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settlement.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.Settle(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, req.TxID), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SettlementHandlers) CloseRound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID string `json:"player_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		roundID := chi.URLParam(r, "round_id")
		res, err := h.svc.CloseRound(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()),
			idempotencyKey(r, "close:"+roundID), settlement.CloseRequest{PlayerID: body.PlayerID, RoundID: roundID})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SettlementHandlers) Balance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.svc.Balance(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "player_id"), chi.URLParam(r, "currency"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SettlementHandlers) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
				return
			}
			limit = n
		}
		page, err := h.rounds.GetHistory(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "player_id"), limit, r.URL.Query().Get("cursor"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, page)
	}
}

func (h *SettlementHandlers) Round() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := h.rounds.GetRound(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "player_id"), chi.URLParam(r, "round_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, summary)
	}
}

func (h *SettlementHandlers) Journal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := journalFilter(w, r)
		if !ok {
			return
		}
		f.PlayerID = chi.URLParam(r, "player_id")
		listJournal(w, r, h.svc, f)
	}
}

func listJournal(w http.ResponseWriter, r *http.Request, svc *settlement.Service, f store.JournalFilter) {
	limit, offset := ParsePagination(r)
	items, err := svc.Journal(r.Context(), f, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func journalFilter(w http.ResponseWriter, r *http.Request) (store.JournalFilter, bool) {
	q := r.URL.Query()
	f := store.JournalFilter{
		Tenant:   TenantFromContext(r.Context()),
		PlayerID: q.Get("player_id"),
		RoundID:  q.Get("round_id"),
		Kind:     store.EntryKind(q.Get("kind")),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return store.JournalFilter{}, false
		}
		*dst = &t
	}
	return f, true
}
