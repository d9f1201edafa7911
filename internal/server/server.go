package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram_studio_bot/internal/config"
	"telegram_studio_bot/internal/middleware"
	"telegram_studio_bot/pkg/logger"
)

// Deps зависимости HTTP сервера
type Deps struct {
	Storage  Pinger
	Bookings BookingService
	// Webhook обработчик обновлений Telegram, nil в режиме long polling
	Webhook http.Handler
	Version string
}

// Server представляет HTTP сервер с middleware
type Server struct {
	httpServer     *http.Server
	config         *config.Config
	logger         *logger.Logger
	rateLimiter    *middleware.RateLimiter
	securityLogger *SecurityLogger
	healthChecker  *HealthChecker
	bookings       *BookingsAPI
	webhook        http.Handler
}

// New создает новый HTTP сервер
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(logger.String("component", "http"))

	s := &Server{
		config:         cfg,
		logger:         log,
		rateLimiter:    middleware.NewRateLimiter(60, time.Minute, log),
		securityLogger: NewSecurityLogger(log),
		healthChecker:  NewHealthChecker(deps.Storage, deps.Version),
		webhook:        deps.Webhook,
	}
	if deps.Bookings != nil {
		s.bookings = NewBookingsAPI(deps.Bookings, log)
	}

	s.httpServer = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        s.routes(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Handler возвращает корневой обработчик
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.PrometheusMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", s.healthChecker.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	if s.webhook != nil {
		r.With(s.webhookSecretMiddleware).Post("/webhook", s.webhook.ServeHTTP)
	}

	if s.bookings != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.HTTPRateLimitMiddleware(s.rateLimiter))
			r.Use(s.adminAuthMiddleware)
			r.Use(chimw.AllowContentType("application/json"))
			r.Mount("/bookings", s.bookings.Routes())
		})
	}

	return r
}

// Start запускает сервер и блокируется до отмены ctx или ошибки
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", logger.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Close()
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown корректно завершает работу сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.securityLogger.LogSystemEvent("server_shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	s.rateLimiter.Close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error during server shutdown", logger.Error(err))
		return err
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
