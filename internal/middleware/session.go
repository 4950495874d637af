// Package middleware содержит HTTP middleware сервиса calcio-domains.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/calcio-domains/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	sessionCookieName = "calcio_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// Registry выдаёт сессии по идентификатору.
type Registry interface {
	Get(id string) (*session.Session, bool)
	Create() *session.Session
}

// SessionMiddleware связывает запрос с сессией по подписанному cookie.
// Запрос без cookie или с неизвестной сессией получает новую сессию.
type SessionMiddleware struct {
	secretKey []byte
	registry  Registry
	secure    bool
}

// NewSessionMiddleware создаёт middleware сессий. При пустом secret
// используется случайный ключ, и сессии не переживают перезапуск.
func NewSessionMiddleware(secret string, registry Registry, secure bool) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionMiddleware{
		secretKey: key,
		registry:  registry,
		secure:    secure,
	}
}

// Middleware добавляет сессию в контекст запроса.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s *session.Session

		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			if id, ok := m.parseCookie(cookie.Value); ok {
				s, _ = m.registry.Get(id)
			}
		}

		if s == nil {
			s = m.registry.Create()
			m.SetSessionCookie(w, s.ID)
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// SetSessionCookie устанавливает cookie сессии.
func (m *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    m.sign(id),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie удаляет cookie сессии в браузере.
func (m *SessionMiddleware) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionMiddleware) sign(id string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

func (m *SessionMiddleware) parseCookie(value string) (string, bool) {
	id, signature, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}

	_, expected, _ := strings.Cut(m.sign(id), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}
	return id, true
}

// WithSession возвращает контекст с сессией.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext извлекает сессию из контекста запроса.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}
