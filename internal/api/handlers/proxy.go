// proxy.go — relay запросов к upstream data API.
// Любой метод на /proxy/* уходит на сконфигурированный базовый URL
// с внедрёнными серверными учётными данными.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/proxy"
)

// ProxyHandler — обработчик relay endpoints.
type ProxyHandler struct {
	proxy  *proxy.Proxy
	logger *slog.Logger
}

// NewProxyHandler создаёт обработчик relay endpoints.
func NewProxyHandler(p *proxy.Proxy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		proxy:  p,
		logger: logger.With(slog.String("component", "proxy_handler")),
	}
}

// Relay обрабатывает ANY /proxy/*.
// Остаток пути и query string уходят на upstream как есть. Статус
// upstream зеркалируется, включая ошибочные: не-2xx — это ответ
// upstream, а не сбой relay.
func (h *ProxyHandler) Relay(w http.ResponseWriter, r *http.Request) {
	// EscapedPath сохраняет кодирование сегментов пути клиента
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/proxy")

	resp, err := h.proxy.Do(r, rest)
	if err != nil {
		middleware.ProxyRequestsTotal.WithLabelValues(r.Method, "500").Inc()
		var perr *proxy.Err
		if errors.As(err, &perr) && perr.Kind == proxy.KindNetwork {
			apierrors.UpstreamError(w, "Upstream недоступен")
			return
		}
		apierrors.InternalError(w, "Ошибка запроса к upstream")
		return
	}
	defer resp.Body.Close()

	middleware.ProxyRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Inc()

	// Заголовки ответа: content-type и пагинация upstream
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}

	// JSON разбирается и переиздаётся, остальное — сквозной поток
	if strings.Contains(contentType, "application/json") {
		var payload any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			// Пустое тело при json content-type (например 204) — не сбой
			if errors.Is(err, io.EOF) {
				w.WriteHeader(resp.StatusCode)
				return
			}
			h.logger.Error("Некорректный JSON от upstream",
				slog.String("method", r.Method),
				slog.String("path", rest),
				slog.String("error", err.Error()),
			)
			apierrors.UpstreamError(w, "Некорректный JSON от upstream")
			return
		}
		writeJSON(w, resp.StatusCode, payload)
		return
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
