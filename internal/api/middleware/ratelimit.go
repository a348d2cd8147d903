// ratelimit.go — middleware ограничения частоты запросов.
// Ключ лимита: endpoint + IP клиента. Отказ — 429 с заголовком Retry-After.
package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/ratelimit"
)

// RateLimit возвращает middleware, ограничивающий частоту запросов
// к endpoint. endpoint — метка для ключа и метрик, limit запросов
// за окно window на одного клиента.
func RateLimit(limiter ratelimit.Limiter, endpoint string, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "ratelimit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			key := endpoint + ":" + ip

			if !limiter.Allow(key, limit, window) {
				retryAfter := int(math.Ceil(limiter.RetryAfter(key, window).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}

				RateLimitedTotal.WithLabelValues(endpoint).Inc()
				log.Warn("Превышен лимит запросов",
					slog.String("event", "rate_limited"),
					slog.String("endpoint", endpoint),
					slog.String("client_ip", ip),
					slog.Int("retry_after", retryAfter),
				)

				apierrors.RateLimited(w,
					fmt.Sprintf("Превышен лимит запросов: не более %d за %s", limit, window),
					retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
