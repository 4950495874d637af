package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/mmeshcher/calcio-domains/internal/metrics"
	custommiddleware "github.com/mmeshcher/calcio-domains/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса calcio-domains.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = []string{h.publicURL}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.sessionMW.Middleware)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/login-url", h.LoginURL)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Route("/user", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Post("/reload", h.ReloadUser)
			r.Put("/profile", h.UpdateProfile)
			r.Get("/avatar", h.GetAvatar)
			r.Post("/coupons/refresh", h.RefreshCoupons)
			r.Get("/orders", h.UserOrders)
			r.Post("/admin-mode", h.SetAdminMode)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/reload", h.ReloadCart)
			r.Post("/items", h.AddCartItem)
			r.Delete("/items/{domain}", h.RemoveCartItem)
			r.Post("/coupon", h.SelectCoupon)
			r.Post("/modal", h.ToggleCartModal)
			r.Post("/pay/credits", h.PayWithCredits)
			r.Post("/pay/stripe", h.PayWithStripe)
		})

		r.Route("/toasts", func(r chi.Router) {
			r.Get("/", h.ListToasts)
			r.Delete("/{id}", h.DismissToast)
			r.Get("/ws", h.ToastFeed)
		})

		r.Route("/domains", func(r chi.Router) {
			r.With(custommiddleware.EvaluationLimit(h.logger)).Get("/search", h.SearchDomain)
			r.Get("/prompt", h.PromptTemplate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin(h.logger))
			r.Get("/", h.GetUser)
			r.Get("/orders", h.RecentOrders)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
