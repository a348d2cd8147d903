// Пакет config — загрузка и валидация конфигурации Portal API
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Portal API.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к корневой директории файлового хранилища (вложения публикуются
	// под относительным префиксом /storage/attachments)
	StorageDir string
	// Максимальный размер одного загружаемого файла в байтах
	MaxFileSize int64

	// Базовый URL upstream data API (прокси-назначение)
	UpstreamURL string
	// API-ключ upstream data API (внедряется сервером, не клиентом)
	UpstreamAPIKey string
	// HTTP Basic учётные данные upstream (опционально, пара)
	UpstreamBasicUser     string
	UpstreamBasicPassword string
	// Таймаут запросов к upstream
	UpstreamTimeout time.Duration

	// URL JWKS endpoint identity-сервиса
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Базовый URL identity-сервиса (admin API: список пользователей)
	IdentityURL string
	// Сервисный ключ identity-сервиса (admin API)
	IdentityServiceKey string
	// Таймаут запросов к identity-сервису
	IdentityTimeout time.Duration

	// PostgreSQL (таблица профилей)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Окно rate limiter
	RateLimitWindow time.Duration
	// Лимит запросов к прокси-endpoint за окно (на клиента)
	RateLimitProxy int
	// Лимит загрузок файлов за окно (на клиента)
	RateLimitUpload int
	// Максимальное количество отслеживаемых ключей rate limiter
	RateLimitMaxKeys int

	// Размер и TTL кэша профилей
	ProfileCacheSize int
	ProfileCacheTTL  time.Duration

	// Разрешённый Origin для CORS ("*" — любой)
	CORSOrigin string

	// Путь к TLS сертификату и ключу (опционально, пара)
	TLSCert string
	TLSKey  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя вершины графа в topologymetrics (SP_DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo // Линейная последовательность независимых проверок
func Load() (*Config, error) {
	cfg := &Config{}

	// SP_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("SP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SP_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("SP_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// SP_STORAGE_DIR — обязательный
	cfg.StorageDir, err = getEnvRequired("SP_STORAGE_DIR")
	if err != nil {
		return nil, err
	}

	// SP_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 15 MiB)
	maxFileSize, err := getEnvInt64("SP_MAX_FILE_SIZE", 15<<20)
	if err != nil {
		return nil, fmt.Errorf("SP_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("SP_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// SP_UPSTREAM_URL — обязательный
	cfg.UpstreamURL, err = getEnvRequired("SP_UPSTREAM_URL")
	if err != nil {
		return nil, err
	}
	cfg.UpstreamURL = strings.TrimRight(cfg.UpstreamURL, "/")

	// SP_UPSTREAM_API_KEY — обязательный
	cfg.UpstreamAPIKey, err = getEnvRequired("SP_UPSTREAM_API_KEY")
	if err != nil {
		return nil, err
	}

	// SP_UPSTREAM_BASIC_USER / SP_UPSTREAM_BASIC_PASSWORD — опциональная пара
	cfg.UpstreamBasicUser = getEnvDefault("SP_UPSTREAM_BASIC_USER", "")
	cfg.UpstreamBasicPassword = getEnvDefault("SP_UPSTREAM_BASIC_PASSWORD", "")
	if (cfg.UpstreamBasicUser == "") != (cfg.UpstreamBasicPassword == "") {
		return nil, fmt.Errorf("SP_UPSTREAM_BASIC_USER и SP_UPSTREAM_BASIC_PASSWORD должны задаваться вместе")
	}

	// SP_UPSTREAM_TIMEOUT — таймаут прокси-запросов (по умолчанию 30s)
	cfg.UpstreamTimeout, err = getEnvDuration("SP_UPSTREAM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_UPSTREAM_TIMEOUT: %w", err)
	}

	// SP_JWKS_URL — обязательный
	cfg.JWKSUrl, err = getEnvRequired("SP_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// SP_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("SP_JWKS_CA_CERT", "")

	// SP_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("SP_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// SP_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 5m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SP_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SP_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SP_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SP_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_JWT_LEEWAY: %w", err)
	}

	// SP_IDENTITY_URL — обязательный
	cfg.IdentityURL, err = getEnvRequired("SP_IDENTITY_URL")
	if err != nil {
		return nil, err
	}
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")

	// SP_IDENTITY_SERVICE_KEY — обязательный
	cfg.IdentityServiceKey, err = getEnvRequired("SP_IDENTITY_SERVICE_KEY")
	if err != nil {
		return nil, err
	}

	// SP_IDENTITY_TIMEOUT — таймаут identity-запросов (по умолчанию 10s)
	cfg.IdentityTimeout, err = getEnvDuration("SP_IDENTITY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_IDENTITY_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("SP_DB_HOST", "localhost")

	cfg.DBPort, err = getEnvInt("SP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("SP_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("SP_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("SP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("SP_DB_SSLMODE", "disable")

	// --- Rate limiter ---

	// SP_RATE_LIMIT_WINDOW — окно подсчёта (по умолчанию 1m)
	cfg.RateLimitWindow, err = getEnvDuration("SP_RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SP_RATE_LIMIT_WINDOW: %w", err)
	}

	// SP_RATE_LIMIT_PROXY — лимит прокси-запросов за окно (по умолчанию 60)
	cfg.RateLimitProxy, err = getEnvInt("SP_RATE_LIMIT_PROXY", 60)
	if err != nil {
		return nil, fmt.Errorf("SP_RATE_LIMIT_PROXY: %w", err)
	}
	if cfg.RateLimitProxy <= 0 {
		return nil, fmt.Errorf("SP_RATE_LIMIT_PROXY: значение должно быть положительным")
	}

	// SP_RATE_LIMIT_UPLOAD — лимит загрузок за окно (по умолчанию 10)
	cfg.RateLimitUpload, err = getEnvInt("SP_RATE_LIMIT_UPLOAD", 10)
	if err != nil {
		return nil, fmt.Errorf("SP_RATE_LIMIT_UPLOAD: %w", err)
	}
	if cfg.RateLimitUpload <= 0 {
		return nil, fmt.Errorf("SP_RATE_LIMIT_UPLOAD: значение должно быть положительным")
	}

	// SP_RATE_LIMIT_MAX_KEYS — максимум отслеживаемых ключей (по умолчанию 10000)
	cfg.RateLimitMaxKeys, err = getEnvInt("SP_RATE_LIMIT_MAX_KEYS", 10000)
	if err != nil {
		return nil, fmt.Errorf("SP_RATE_LIMIT_MAX_KEYS: %w", err)
	}
	if cfg.RateLimitMaxKeys <= 0 {
		return nil, fmt.Errorf("SP_RATE_LIMIT_MAX_KEYS: значение должно быть положительным")
	}

	// --- Кэш профилей ---

	cfg.ProfileCacheSize, err = getEnvInt("SP_PROFILE_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SP_PROFILE_CACHE_SIZE: %w", err)
	}

	cfg.ProfileCacheTTL, err = getEnvDuration("SP_PROFILE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SP_PROFILE_CACHE_TTL: %w", err)
	}

	// SP_CORS_ORIGIN — разрешённый Origin (по умолчанию "*")
	cfg.CORSOrigin = getEnvDefault("SP_CORS_ORIGIN", "*")

	// SP_TLS_CERT / SP_TLS_KEY — опциональная пара
	cfg.TLSCert = getEnvDefault("SP_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("SP_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("SP_TLS_CERT и SP_TLS_KEY должны задаваться вместе")
	}

	// SP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SP_LOG_LEVEL: %w", err)
	}

	// SP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// SP_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_SHUTDOWN_TIMEOUT: %w", err)
	}

	// SP_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// SP_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("SP_DEPHEALTH_GROUP", "portal-api")

	// SP_DEPHEALTH_NAME — имя вершины графа в topologymetrics
	cfg.DephealthName = getEnvDefault("SP_DEPHEALTH_NAME", "portal-api")

	return cfg, nil
}

// DatabaseDSN формирует строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
