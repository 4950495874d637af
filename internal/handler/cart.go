package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/cart"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/validation"
)

func writeResult(w http.ResponseWriter, res cart.Result) {
	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case res.Error == cart.NotAuthenticated:
		writeJSON(w, http.StatusUnauthorized, res)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	}
}

// GetCart возвращает корзину с производными суммами.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Cart.Snapshot())
}

// AddCartItem добавляет домен в корзину.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	var d model.Domain
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	name, err := validation.NormalizeDomain(d.Name)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity)
		return
	}
	if d.Price.IsNegative() {
		writeError(w, http.StatusUnprocessableEntity)
		return
	}
	d.Name = name

	if a, ok := s.Assertion(); ok {
		if err := s.User.Initialize(r.Context(), a); err != nil {
			h.writeInitError(w, err)
			return
		}
	}

	writeResult(w, s.Cart.AddToCart(r.Context(), d))
}

// RemoveCartItem удаляет домен из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	name, err := validation.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	writeResult(w, s.Cart.RemoveFromCart(r.Context(), name))
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	writeResult(w, s.Cart.ClearCart(r.Context()))
}

// ReloadCart перечитывает корзину и купоны из бэкенда.
func (h *Handler) ReloadCart(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	s.Cart.LoadCart(r.Context())
	writeJSON(w, http.StatusOK, s.Cart.Snapshot())
}

type couponRequest struct {
	CouponID    string `json:"coupon_id"`
	ConvertRest *bool  `json:"convert_rest"`
}

// SelectCoupon выбирает купон и режим перевода остатка в кредиты.
func (h *Handler) SelectCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	if err := s.Cart.SelectCoupon(req.CouponID); err != nil {
		if errors.Is(err, cart.ErrCouponUnavailable) {
			writeError(w, http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("select coupon", zap.Error(err))
		writeError(w, http.StatusInternalServerError)
		return
	}
	if req.ConvertRest != nil {
		s.Cart.SetConvertRest(*req.ConvertRest)
	}

	writeJSON(w, http.StatusOK, s.Cart.Snapshot())
}

type modalResponse struct {
	Open bool `json:"open"`
}

// ToggleCartModal открывает или закрывает окно корзины.
func (h *Handler) ToggleCartModal(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, modalResponse{Open: s.Cart.ToggleCartModal()})
}

// PayWithCredits оплачивает корзину кредитами.
func (h *Handler) PayWithCredits(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}
	writeResult(w, s.Cart.PayWithCredits(r.Context()))
}

// PayWithStripe создаёт сессию оплаты Stripe.
func (h *Handler) PayWithStripe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}
	writeResult(w, s.Cart.PayWithStripe(r.Context()))
}
