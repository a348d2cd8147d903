// metrics.go — Prometheus HTTP метрики Portal API.
// Регистрирует метрики: sp_http_requests_total, sp_http_request_duration_seconds.
// Бизнес-метрики (sp_uploads_total, sp_rate_limited_total и др.)
// экспортируются для обновления из соответствующих слоёв.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_http_requests_total",
			Help: "Общее количество HTTP-запросов к Portal API",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sp_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Portal API в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из других слоёв)
var (
	// UploadsTotal — количество обработанных файлов загрузки.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_uploads_total",
			Help: "Количество обработанных файлов загрузки",
		},
		[]string{"result"},
	)

	// RateLimitedTotal — количество отклонённых по лимиту запросов.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_rate_limited_total",
			Help: "Количество запросов, отклонённых rate limiter-ом",
		},
		[]string{"endpoint"},
	)

	// ProxyRequestsTotal — количество ретранслированных запросов к upstream.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_proxy_requests_total",
			Help: "Количество ретранслированных запросов к upstream data API",
		},
		[]string{"method", "status"},
	)

	// AuthFailuresTotal — количество отказов аутентификации/авторизации.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_auth_failures_total",
			Help: "Количество отказов аутентификации и авторизации",
		},
		[]string{"reason"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (wildcard-сегменты сворачиваются для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath сворачивает вариативные сегменты пути в шаблоны,
// чтобы кардинальность лейбла path оставалась ограниченной.
// /proxy/rest/v1/applications → /proxy/*
// /storage/attachments/abc.pdf → /storage/attachments/*
// /api/v1/profiles/{uuid} → /api/v1/profiles/{id}
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/proxy/"):
		return "/proxy/*"
	case strings.HasPrefix(path, "/storage/attachments/"):
		return "/storage/attachments/*"
	case strings.HasPrefix(path, "/api/v1/profiles/") && len(path) > len("/api/v1/profiles/"):
		return "/api/v1/profiles/{id}"
	}
	return path
}
