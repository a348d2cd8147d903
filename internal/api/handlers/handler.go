// Пакет handlers — HTTP handlers Portal API.
// handler.go — общие helper-ы для формирования ответов.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/validate"
)

// writeJSON сериализует v в тело ответа со статусом statusCode.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFieldsError отвечает 400 на ошибку валидации тела запроса.
// Перечень нарушений по полям уходит в details конверта ошибки.
func writeFieldsError(w http.ResponseWriter, err error) {
	var ferr *validate.FieldsError
	if errors.As(err, &ferr) {
		apierrors.ValidationErrorDetails(w, "Некорректные поля запроса", ferr.Problems)
		return
	}
	apierrors.ValidationError(w, err.Error())
}

// decodeJSONBody читает тело запроса в map. Возвращает ошибку при
// некорректном JSON или пустом теле.
func decodeJSONBody(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}
