package httptransport

import (
	"encoding/json"
	"io"
	"net/http"

	"casino-settlement/internal/app/withdrawal"

	"github.com/go-chi/chi/v5"
)

type WithdrawalHandlers struct {
	svc *withdrawal.Service
}

func NewWithdrawalHandlers(svc *withdrawal.Service) *WithdrawalHandlers {
	return &WithdrawalHandlers{svc: svc}
}

func (h *WithdrawalHandlers) Request() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in withdrawal.RequestInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.Request(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *WithdrawalHandlers) Approve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.svc.Approve(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *WithdrawalHandlers) Payout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.svc.InitiatePayout(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *WithdrawalHandlers) Reject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in withdrawal.RejectInput
		if err := decodeOptional(r, &in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.Reject(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), chi.URLParam(r, "id"), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *WithdrawalHandlers) Paid() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in withdrawal.PaidInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.MarkPaid(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), idempotencyKey(r, ""), chi.URLParam(r, "id"), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *WithdrawalHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, err := h.svc.Get(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, wd)
	}
}

func (h *WithdrawalHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		items, err := h.svc.List(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "player_id"), limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
