package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// adminAuthMiddleware пропускает только запросы с токеном администратора в заголовке Authorization.
// Без настроенного токена API закрыт полностью
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.AdminToken == "" {
			s.securityLogger.LogFailedAuth(r, "admin_api_disabled")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, Error("admin API is disabled"))
			return
		}

		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || !secureEqual(token, s.config.Server.AdminToken) {
			s.securityLogger.LogFailedAuth(r, "invalid_admin_token")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, Error("unauthorized"))
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.Method != http.MethodGet {
			s.securityLogger.LogAdminAction(r, ww.Status(), time.Since(start))
		}
	})
}

// webhookSecretMiddleware проверяет секрет, который Telegram передает в каждом webhook запросе
func (s *Server) webhookSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.config.Telegram.SecretToken
		if secret != "" && !secureEqual(r.Header.Get(telegramSecretHeader), secret) {
			s.securityLogger.LogFailedAuth(r, "invalid_webhook_secret")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
