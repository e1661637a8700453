package httptransport

import (
	"encoding/json"
	"net/http"

	"casino-settlement/internal/robots"

	"github.com/go-chi/chi/v5"
)

type RobotHandlers struct {
	registry *robots.Registry
}

func NewRobotHandlers(registry *robots.Registry) *RobotHandlers {
	return &RobotHandlers{registry: registry}
}

func (h *RobotHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in robots.RobotInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		robot, err := h.registry.CreateRobot(r.Context(), TenantFromContext(r.Context()), CallerFromContext(r.Context()), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, robot)
	}
}

func (h *RobotHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		robot, err := h.registry.GetRobot(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, robot)
	}
}

func (h *RobotHandlers) Clone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		robot, err := h.registry.CloneRobot(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "id"), CallerFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, robot)
	}
}

func (h *RobotHandlers) SetActive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		robot, err := h.registry.SetActive(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "id"), *body.Active)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, robot)
	}
}

func (h *RobotHandlers) Bind() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RobotID string `json:"robot_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		b, err := h.registry.BindRobot(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "game_id"), body.RobotID, CallerFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, b)
	}
}

func (h *RobotHandlers) Resolve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.registry.ResolveRobot(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "game_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *RobotHandlers) Bindings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.registry.Bindings(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "game_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"items": items})
	}
}
