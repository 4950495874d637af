// Package session связывает хранилища одной браузерной сессии и управляет
// их временем жизни.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/calcio-domains/internal/cart"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/toast"
	"github.com/mmeshcher/calcio-domains/internal/user"
)

// Backend объединяет функции бэкенда, нужные хранилищам сессии.
type Backend interface {
	user.Backend
	cart.Backend
}

// Deps содержит общие зависимости, из которых собираются хранилища сессии.
type Deps struct {
	Backend  Backend
	Resolver user.Resolver
	Prefs    user.Preferences
	Orders   cart.OrderLog
	Logger   *zap.Logger

	// EvaluateLimit и EvaluateBurst ограничивают частоту оценок домена
	// в одной сессии. Нулевой EvaluateLimit снимает ограничение.
	EvaluateLimit rate.Limit
	EvaluateBurst int
}

// Session содержит хранилища одной браузерной сессии.
type Session struct {
	ID     string
	Toasts *toast.Notifier
	User   *user.Store
	Cart   *cart.Store

	// Evaluations ограничивает обращения к модели оценки.
	Evaluations *rate.Limiter

	mu        sync.Mutex
	assertion model.Assertion
	lastSeen  time.Time
}

func newSession(id string, deps Deps, now time.Time) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", id))

	limit := deps.EvaluateLimit
	if limit <= 0 {
		limit = rate.Inf
	}

	s := &Session{
		ID:          id,
		Toasts:      toast.NewNotifier(),
		Evaluations: rate.NewLimiter(limit, max(deps.EvaluateBurst, 1)),
		lastSeen:    now,
	}
	s.User = user.NewStore(deps.Backend, deps.Resolver, deps.Prefs, logger)
	s.Cart = cart.NewStore(deps.Backend, s.User, s.Toasts, deps.Orders, s.Authenticated, logger)
	return s
}

// Authenticated сообщает, передал ли браузер подтверждённую идентичность.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assertion.Valid()
}

// Assertion возвращает идентичность пользователя сессии.
func (s *Session) Assertion() (model.Assertion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assertion, s.assertion.Valid()
}

// SetAssertion сохраняет идентичность после входа.
func (s *Session) SetAssertion(a model.Assertion) {
	s.mu.Lock()
	s.assertion = a
	s.mu.Unlock()
}

// Logout забывает идентичность и очищает корзину и данные пользователя.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.assertion = model.Assertion{}
	s.mu.Unlock()

	s.Cart.Reset()
	return s.User.ClearAll(ctx)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}
