package server

import (
	"net/http"
	"time"

	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

// SecurityLogger логирует события безопасности
type SecurityLogger struct {
	logger *logger.Logger
}

// NewSecurityLogger создает новый логгер безопасности
func NewSecurityLogger(log *logger.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: log.WithFields(logger.String("component", "security")),
	}
}

// LogFailedAuth логирует неудачную попытку аутентификации
func (sl *SecurityLogger) LogFailedAuth(r *http.Request, reason string) {
	metrics.RecordError("security", "auth_failed")
	sl.logger.Warn("Authentication failed",
		logger.String("event_type", "auth_failure"),
		logger.String("reason", reason),
		logger.String("ip", r.RemoteAddr),
		logger.String("path", r.URL.Path),
		logger.String("user_agent", r.UserAgent()),
		logger.Time("timestamp", time.Now().UTC()),
	)
}

// LogAdminAction логирует изменяющие запросы к административному API
func (sl *SecurityLogger) LogAdminAction(r *http.Request, status int, duration time.Duration) {
	sl.logger.Info("Admin API action",
		logger.String("event_type", "admin_action"),
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.String("ip", r.RemoteAddr),
		logger.Int("status", status),
		logger.Duration("duration", duration),
	)
}

// LogSystemEvent логирует системные события
func (sl *SecurityLogger) LogSystemEvent(event string, fields ...logger.Field) {
	sl.logger.Info("System event", append([]logger.Field{logger.String("event", event)}, fields...)...)
}
