package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/metrics"
)

// Registry хранит сессии процесса.
type Registry struct {
	deps   Deps
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry создаёт реестр. Сессии, неактивные дольше ttl, удаляются
// фоновым процессом StartJanitor.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create создаёт новую сессию со случайным идентификатором.
func (r *Registry) Create() *Session {
	s := newSession(uuid.NewString(), r.deps, r.now())

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetActiveSessions(n)
	return s
}

// Get возвращает сессию и отмечает её активность.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.touch(r.now())
	return s, true
}

// Delete удаляет сессию.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.Toasts.Clear()
	}
	metrics.SetActiveSessions(n)
}

// Len возвращает число активных сессий.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartJanitor запускает фоновое удаление неактивных сессий.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.evictIdle(); n > 0 {
					r.logger.Info("idle sessions evicted", zap.Int("count", n))
				}
			}
		}
	}()
}

func (r *Registry) evictIdle() int {
	now := r.now()

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.idleSince(now) > r.ttl {
			evicted = append(evicted, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range evicted {
		s.Toasts.Clear()
	}
	metrics.SetActiveSessions(n)
	return len(evicted)
}
