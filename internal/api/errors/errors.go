// Пакет errors — конструкторы стандартных ошибок Portal API.
// Единый формат: {"error": "...", "code": "...", "details": ..., "timestamp": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Машиночитаемые коды ошибок Portal API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeProfileNotFound = "PROFILE_NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteError записывает ответ ошибки в стандартном формате Portal API.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorDetails(w, statusCode, code, message, nil)
}

// WriteErrorDetails — как WriteError, но с произвольным полем details
// (например, список ошибок валидации по полям).
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// ValidationErrorDetails — 400 с перечнем ошибок по полям.
func ValidationErrorDetails(w http.ResponseWriter, message string, details any) {
	WriteErrorDetails(w, http.StatusBadRequest, CodeValidationError, message, details)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// ProfileNotFound — 404 токен валиден, но профиль отсутствует в БД портала.
func ProfileNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeProfileNotFound, message)
}

// Conflict — 409 ресурс уже существует.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// RateLimited — 429 превышен лимит запросов. retryAfter — секунды до
// следующей попытки, передаются в заголовке Retry-After.
func RateLimited(w http.ResponseWriter, message string, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// UpstreamError — 500 upstream недоступен или вернул некорректный ответ.
// Не-2xx ответы доступного upstream зеркалируются как есть и сюда
// не попадают.
func UpstreamError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeUpstreamError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
