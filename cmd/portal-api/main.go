// Точка входа Portal API — backend-ядро стипендиального портала.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует JWKS guard, rate limiter, relay к upstream data API,
// identity-клиент и файловое хранилище, запускает мониторинг зависимостей
// (topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/arturkryukov/gostipend/internal/api/handlers"
	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/config"
	"github.com/arturkryukov/gostipend/internal/database"
	"github.com/arturkryukov/gostipend/internal/identity"
	"github.com/arturkryukov/gostipend/internal/proxy"
	"github.com/arturkryukov/gostipend/internal/ratelimit"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/server"
	"github.com/arturkryukov/gostipend/internal/service"
	"github.com/arturkryukov/gostipend/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Portal API запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("SP_DEPHEALTH_GROUP") == "" {
		logger.Warn("SP_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Repositories
	profileRepo := repository.NewProfileRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)

	// 6. Файловое хранилище вложений
	store, err := filestore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища вложений", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище вложений готово", slog.String("dir", cfg.StorageDir))

	// 7. Auth guard (JWKS identity-сервиса + профили портала)
	guard, err := middleware.NewGuard(middleware.GuardConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
		CacheSize:       cfg.ProfileCacheSize,
		CacheTTL:        cfg.ProfileCacheTTL,
	}, profileRepo, logger)
	if err != nil {
		logger.Error("Ошибка создания auth guard", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Auth guard инициализирован", slog.String("jwks_url", cfg.JWKSUrl))

	// 8. Rate limiter (sliding window, ограниченная таблица ключей)
	limiter := ratelimit.New(cfg.RateLimitMaxKeys, cfg.RateLimitWindow)

	// 9. Relay к upstream data API
	upstreamProxy := proxy.New(
		cfg.UpstreamURL,
		cfg.UpstreamAPIKey,
		cfg.UpstreamBasicUser,
		cfg.UpstreamBasicPassword,
		cfg.UpstreamTimeout,
		logger,
	)

	// 10. Identity-клиент (админский поиск пользователей)
	identityClient, err := identity.New(
		cfg.IdentityURL,
		cfg.IdentityServiceKey,
		cfg.JWKSCACert,
		cfg.IdentityTimeout,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания identity-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Services
	uploadSvc := service.NewUploadService(cfg.MaxFileSize, store, attachmentRepo, logger)

	// 12. topologymetrics — мониторинг зависимостей
	dephealthSvc, err := service.NewDephealthService(
		cfg.DephealthName,
		cfg.DephealthGroup,
		[]service.Dependency{
			{Name: "upstream-api", URL: cfg.UpstreamURL},
			{Name: "identity-jwks", URL: cfg.JWKSUrl},
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания dephealth-сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dephealthSvc.Stop()

	// 13. Handlers
	h := server.Handlers{
		Attachments: handlers.NewAttachmentsHandler(uploadSvc, attachmentRepo, store),
		Proxy:       handlers.NewProxyHandler(upstreamProxy, logger),
		Profiles:    handlers.NewProfilesHandler(profileRepo, guard, logger),
		Users:       handlers.NewUsersHandler(identityClient, logger),
		Health:      handlers.NewHealthHandler(cfg.StorageDir, database.NewReadinessChecker(pool), dephealthSvc),
	}

	// 14. HTTP-сервер с graceful shutdown
	srv := server.New(cfg, logger, h, guard, limiter)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
