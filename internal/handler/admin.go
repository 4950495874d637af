package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultRecentOrders = 50

type adminModeRequest struct {
	Enabled *bool `json:"enabled"`
}

type adminModeResponse struct {
	AdminMode bool `json:"admin_mode"`
}

// SetAdminMode включает, выключает или переключает режим администратора.
// Для обычного пользователя режим остаётся выключенным.
func (h *Handler) SetAdminMode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}

	var req adminModeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
	}

	var (
		enabled bool
		err     error
	)
	switch {
	case req.Enabled == nil:
		enabled, err = s.User.ToggleAdminMode(r.Context())
	case *req.Enabled:
		enabled, err = s.User.EnableAdminMode(r.Context())
	default:
		enabled, err = s.User.DisableAdminMode(r.Context())
	}
	if err != nil {
		h.logger.Error("set admin mode", zap.Error(err))
		writeError(w, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, adminModeResponse{AdminMode: enabled})
}

// RecentOrders возвращает последние заказы всех пользователей.
func (h *Handler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentOrders
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := h.orders.RecentOrders(r.Context(), limit)
	if err != nil {
		h.logger.Error("get recent orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
