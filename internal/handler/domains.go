package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/validation"
)

// SearchDomain проверяет доступность домена и запрашивает его оценку.
func (h *Handler) SearchDomain(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	res, err := h.domains.Search(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrEmptyDomain),
			errors.Is(err, validation.ErrInvalidDomain),
			errors.Is(err, validation.ErrForeignTLD):
			writeError(w, http.StatusBadRequest)
		default:
			h.logger.Error("search domain", zap.String("name", name), zap.Error(err))
			writeError(w, http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// PromptTemplate возвращает шаблон промпта оценки.
func (h *Handler) PromptTemplate(w http.ResponseWriter, r *http.Request) {
	p, err := h.domains.PromptTemplate(r.Context())
	if err != nil {
		h.logger.Error("get prompt template", zap.Error(err))
		writeError(w, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
