package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/arturkryukov/gostipend/internal/ratelimit"
)

// TestRateLimit_UnderLimit проверяет пропуск запросов в пределах лимита.
func TestRateLimit_UnderLimit(t *testing.T) {
	limiter := ratelimit.New(100, time.Minute)
	handler := RateLimit(limiter, "proxy", 5, time.Minute, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/proxy/grants", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("запрос %d: ожидался статус 200, получен %d", i+1, rec.Code)
		}
	}
}

// TestRateLimit_OverLimit проверяет отклонение сверх лимита и заголовок Retry-After.
func TestRateLimit_OverLimit(t *testing.T) {
	limiter := ratelimit.New(100, time.Minute)
	handler := RateLimit(limiter, "proxy", 2, time.Minute, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/proxy/grants", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	do()
	do()
	rec := do()

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидался статус 429, получен %d", rec.Code)
	}

	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("заголовок Retry-After не установлен")
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After не число: %q", retryAfter)
	}
	if seconds < 1 || seconds > 60 {
		t.Errorf("Retry-After = %d, ожидается значение в диапазоне [1, 60]", seconds)
	}
}

// TestRateLimit_IndependentClients проверяет независимость счётчиков по клиентам.
func TestRateLimit_IndependentClients(t *testing.T) {
	limiter := ratelimit.New(100, time.Minute)
	handler := RateLimit(limiter, "upload", 1, time.Minute, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1111"); code != http.StatusOK {
		t.Errorf("первый клиент: ожидался статус 200, получен %d", code)
	}
	if code := do("10.0.0.1:2222"); code != http.StatusTooManyRequests {
		t.Errorf("повтор первого клиента: ожидался статус 429, получен %d", code)
	}
	if code := do("10.0.0.2:1111"); code != http.StatusOK {
		t.Errorf("второй клиент: ожидался статус 200, получен %d", code)
	}
}

// TestRateLimit_EndpointIsolation проверяет раздельные лимиты по эндпоинтам.
func TestRateLimit_EndpointIsolation(t *testing.T) {
	limiter := ratelimit.New(100, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	proxyHandler := RateLimit(limiter, "proxy", 1, time.Minute, testLogger())(ok)
	uploadHandler := RateLimit(limiter, "upload", 1, time.Minute, testLogger())(ok)

	do := func(h http.Handler) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(proxyHandler); code != http.StatusOK {
		t.Errorf("proxy: ожидался статус 200, получен %d", code)
	}
	if code := do(uploadHandler); code != http.StatusOK {
		t.Errorf("upload после proxy: ожидался статус 200, получен %d", code)
	}
	if code := do(proxyHandler); code != http.StatusTooManyRequests {
		t.Errorf("proxy повторно: ожидался статус 429, получен %d", code)
	}
}

// TestClientIP проверяет извлечение IP клиента.
func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr", "192.168.1.10:54321", "", "192.168.1.10"},
		{"x-forwarded-for", "10.0.0.1:1234", "203.0.113.7", "203.0.113.7"},
		{"x-forwarded-for chain", "10.0.0.1:1234", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"no port", "192.168.1.10", "", "192.168.1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, ожидается %q", got, tt.want)
			}
		})
	}
}
