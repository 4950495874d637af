package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// EvaluationLimit ограничивает частоту оценок домена в пределах сессии.
func EvaluationLimit(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if ok && s.Evaluations != nil && !s.Evaluations.Allow() {
				logger.Warn("evaluation rate limit exceeded", zap.String("session_id", s.ID))
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
