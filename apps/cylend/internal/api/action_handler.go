package api

import (
	"net/http"
	"strconv"

	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ActionHandler serves action records
type ActionHandler struct {
	responder
	store store.Store
}

func NewActionHandler(s store.Store, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{responder: responder{logger: logger}, store: s}
}

// ListActions handles GET /api/actions?status=pending&limit=100
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	status := model.ActionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StatusPending
	}
	switch status {
	case model.StatusPending, model.StatusProcessed, model.StatusFailed:
	default:
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_status", "Status must be pending, processed or failed")
		return
	}

	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
		return
	}

	actions, err := h.store.ListActionsByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list actions", zap.String("status", string(status)), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list actions")
		return
	}

	response := ActionListResponse{Actions: make([]ActionResponse, 0, len(actions))}
	for _, a := range actions {
		response.Actions = append(response.Actions, newActionResponse(a))
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetAction handles GET /api/actions/{action_id}
func (h *ActionHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHash(mux.Vars(r)["action_id"])
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_action_id", "Action id must be a 0x-prefixed 32-byte hex string")
		return
	}

	action, err := h.store.GetAction(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get action", zap.String("action_id", id.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve action")
		return
	}
	if action == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "action_not_found", "Action not found")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, newActionResponse(*action))
}

// parseLimit defaults to defaultListLimit and caps at maxListLimit
func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
