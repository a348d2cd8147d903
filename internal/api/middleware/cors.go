// cors.go — CORS-заголовки для браузерного фронтенда портала.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS возвращает middleware с CORS-заголовками через go-chi/cors.
// allowedOrigin — разрешённый Origin ("*" — любой). Preflight OPTIONS
// завершается внутри middleware, до router-а не доходит.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Prefer"},
		MaxAge:         86400,
	})
}
