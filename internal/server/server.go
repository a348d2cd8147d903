// Пакет server — HTTP-сервер Portal API с graceful shutdown.
// TLS опционален: внутри кластера termination обычно на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturkryukov/gostipend/internal/api/handlers"
	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/config"
	"github.com/arturkryukov/gostipend/internal/ratelimit"
)

// Handlers — доменные обработчики, монтируемые на router.
type Handlers struct {
	Attachments *handlers.AttachmentsHandler
	Proxy       *handlers.ProxyHandler
	Profiles    *handlers.ProfilesHandler
	Users       *handlers.UsersHandler
	Health      *handlers.HealthHandler
}

// Server — HTTP-сервер Portal API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// guard — nil отключает аутентификацию (только для тестов).
func New(cfg *config.Config, logger *slog.Logger, h Handlers, guard *middleware.Guard, limiter ratelimit.Limiter) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORS(cfg.CORSOrigin))

	// Публичные endpoints: probes, метрики, статика вложений
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/storage/attachments/{name}", h.Attachments.Serve)

	requireAuth := passthrough
	requireAdmin := passthrough
	if guard != nil {
		requireAuth = guard.RequireAuth()
		requireAdmin = guard.RequireAdmin()
	}

	proxyLimit := middleware.RateLimit(limiter, "proxy", cfg.RateLimitProxy, cfg.RateLimitWindow, logger)
	uploadLimit := middleware.RateLimit(limiter, "upload", cfg.RateLimitUpload, cfg.RateLimitWindow, logger)

	// Лимитируемые маршруты: rate limiter стоит ПЕРЕД guard-ом, чтобы
	// неаутентифицированный шквал не доходил до JWKS-проверки и БД
	router.Group(func(r chi.Router) {
		r.Use(uploadLimit)
		r.Use(requireAuth)
		r.Post("/api/v1/attachments", h.Attachments.Upload)
	})
	router.Group(func(r chi.Router) {
		r.Use(proxyLimit)
		r.Use(requireAuth)
		r.HandleFunc("/proxy/*", h.Proxy.Relay)
	})

	// Аутентифицированные маршруты без отдельного лимита
	router.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/api/v1/profiles/me", h.Profiles.Me)
		r.Delete("/api/v1/attachments", h.Attachments.Delete)
		r.Get("/api/v1/attachments", h.Attachments.List)

		// Администрирование профилей и поиск в identity-сервисе
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Post("/api/v1/profiles", h.Profiles.Create)
			r.Get("/api/v1/profiles", h.Profiles.List)
			r.Get("/api/v1/profiles/{id}", h.Profiles.Get)
			r.Patch("/api/v1/profiles/{id}", h.Profiles.Update)
			r.Get("/api/v1/users/lookup", h.Users.Lookup)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// passthrough — no-op middleware для отключённого guard-а.
func passthrough(next http.Handler) http.Handler {
	return next
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// Handler возвращает корневой http.Handler (для httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
