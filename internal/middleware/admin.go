package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/toast"
)

// DashboardPath - страница, на которую возвращается пользователь без доступа.
const DashboardPath = "/dashboard"

const msgAccessDenied = "Accesso negato: solo gli amministratori possono accedere a questa pagina"

// RequireAdmin пропускает запрос только администратору с загруженными данными
// и включает для него режим администратора. Остальные получают адрес
// перенаправления на DashboardPath.
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok || !s.User.IsInitialized() {
				logger.Warn("user not initialized, redirecting to dashboard")
				redirect(w, http.StatusUnauthorized)
				return
			}

			if !s.User.IsAdmin() {
				logger.Warn("user is not admin, access denied", zap.String("row_id", s.User.RowID()))
				s.Toasts.Error(msgAccessDenied, toast.DefaultDuration)
				redirect(w, http.StatusForbidden)
				return
			}

			if _, err := s.User.EnableAdminMode(r.Context()); err != nil {
				logger.Warn("enable admin mode", zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func redirect(w http.ResponseWriter, status int) {
	w.Header().Set("Location", DashboardPath)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"redirect": DashboardPath})
}
