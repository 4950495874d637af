// Package handler содержит HTTP-обработчики API сервиса calcio-domains.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/domains"
	"github.com/mmeshcher/calcio-domains/internal/identity"
	"github.com/mmeshcher/calcio-domains/internal/middleware"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/session"
	"github.com/mmeshcher/calcio-domains/internal/user"
)

const maxAvatarSize = 5 << 20

// Identity строит адреса входа и выхода у провайдера идентичности.
type Identity interface {
	LoginURL(redirectURI, audience string) string
	LogoutURL(returnTo string) string
}

// DomainSearch выполняет поиск и оценку доменов.
type DomainSearch interface {
	Search(ctx context.Context, name string) (*domains.SearchResult, error)
	PromptTemplate(ctx context.Context) (*catalyst.Prompt, error)
}

// AvatarSource отдаёт изображение аватара пользователя.
type AvatarSource interface {
	GetAvatar(ctx context.Context, rowID string) (io.ReadCloser, string, error)
}

// OrderLog читает журнал заказов.
type OrderLog interface {
	OrdersByUser(ctx context.Context, userRowID string) ([]model.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// SessionRegistry хранит сессии.
type SessionRegistry interface {
	middleware.Registry
	Delete(id string)
}

// Deps содержит зависимости обработчиков.
type Deps struct {
	Identity       Identity
	Domains        DomainSearch
	Avatars        AvatarSource
	Orders         OrderLog
	Sessions       SessionRegistry
	SessionSecret  string
	SecureCookies  bool
	PublicURL      string
	Audience       string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler реализует HTTP-обработчики API сервиса calcio-domains.
type Handler struct {
	identity       Identity
	domains        DomainSearch
	avatars        AvatarSource
	orders         OrderLog
	sessions       SessionRegistry
	sessionMW      *middleware.SessionMiddleware
	publicURL      string
	audience       string
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		identity:       d.Identity,
		domains:        d.Domains,
		avatars:        d.Avatars,
		orders:         d.Orders,
		sessions:       d.Sessions,
		sessionMW:      middleware.NewSessionMiddleware(d.SessionSecret, d.Sessions, d.SecureCookies),
		publicURL:      d.PublicURL,
		audience:       d.Audience,
		allowedOrigins: d.AllowedOrigins,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

// currentSession возвращает сессию запроса. Сессия есть всегда, если
// маршрут обёрнут SessionMiddleware.
func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

// authenticatedSession возвращает сессию с загруженным пользователем.
// Если пользователь вошёл, но данные ещё не загружены, они загружаются.
func (h *Handler) authenticatedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := currentSession(w, r)
	if !ok {
		return nil, false
	}

	a, ok := s.Assertion()
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return nil, false
	}

	if err := s.User.Initialize(r.Context(), a); err != nil {
		h.writeInitError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeInitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrIdentityResolution):
		writeError(w, http.StatusForbidden)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout)
	default:
		h.logger.Error("initialize user", zap.Error(err))
		writeError(w, http.StatusBadGateway)
	}
}

type loginURLResponse struct {
	URL string `json:"url"`
}

// LoginURL возвращает адрес страницы входа провайдера идентичности.
func (h *Handler) LoginURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, loginURLResponse{URL: h.identity.LoginURL(h.publicURL, h.audience)})
}

type loginRequest struct {
	AccessToken string `json:"access_token"`
}

// Login принимает токен доступа провайдера, загружает пользователя и корзину.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	token := r.Header.Get("Authorization")
	if token == "" {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
		token = req.AccessToken
	}

	a, err := identity.ParseAssertion(token)
	if err != nil {
		h.logger.Info("login rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized)
		return
	}

	if prev, ok := s.Assertion(); ok && prev.Subject != a.Subject {
		if err := s.Logout(r.Context()); err != nil {
			h.logger.Warn("reset previous user", zap.Error(err))
		}
	}

	// сессия считается авторизованной только после успешной загрузки пользователя
	if err := s.User.Initialize(r.Context(), a); err != nil {
		h.writeInitError(w, err)
		return
	}
	s.SetAssertion(a)
	s.Cart.LoadCart(r.Context())

	writeJSON(w, http.StatusOK, s.User.Snapshot())
}

type logoutResponse struct {
	Redirect string `json:"redirect"`
}

// Logout очищает сессию и возвращает адрес выхода у провайдера.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	if err := s.Logout(r.Context()); err != nil {
		h.logger.Warn("logout", zap.Error(err))
	}
	h.sessions.Delete(s.ID)
	h.sessionMW.ClearSessionCookie(w)

	writeJSON(w, http.StatusOK, logoutResponse{Redirect: h.identity.LogoutURL(h.publicURL)})
}

// GetUser возвращает данные пользователя.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.User.Snapshot())
}

// ReloadUser принудительно перечитывает данные пользователя.
func (h *Handler) ReloadUser(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	a, ok := s.Assertion()
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	if err := s.User.ForceReload(r.Context(), a); err != nil {
		h.writeInitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.User.Snapshot())
}

// UpdateProfile сохраняет никнейм и аватар из multipart-формы.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+1<<20)
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	nickname := r.FormValue("nickname")

	var (
		avatar     io.Reader
		avatarName string
	)
	if file, header, err := r.FormFile("avatar"); err == nil {
		defer file.Close()
		avatar = file
		avatarName = header.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest)
		return
	}

	if nickname == "" && avatar == nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	if err := s.User.SaveProfile(r.Context(), nickname, avatar, avatarName); err != nil {
		h.logger.Error("save profile", zap.String("row_id", s.User.RowID()), zap.Error(err))
		writeError(w, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.User.Snapshot())
}

// GetAvatar проксирует изображение аватара пользователя.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}

	body, contentType, err := h.avatars.GetAvatar(r.Context(), s.User.RowID())
	if err != nil {
		if catalyst.KindOf(err) == catalyst.KindNotFound {
			writeError(w, http.StatusNotFound)
			return
		}
		h.logger.Error("get avatar", zap.Error(err))
		writeError(w, http.StatusBadGateway)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream avatar", zap.Error(err))
	}
}

// RefreshCoupons перечитывает купоны пользователя.
func (h *Handler) RefreshCoupons(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}

	if err := s.User.RefreshCoupons(r.Context()); err != nil {
		h.logger.Error("refresh coupons", zap.Error(err))
		writeError(w, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.User.Snapshot().Coupons)
}

// UserOrders возвращает заказы текущего пользователя.
func (h *Handler) UserOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authenticatedSession(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.OrdersByUser(r.Context(), s.User.RowID())
	if err != nil {
		h.logger.Error("get user orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
