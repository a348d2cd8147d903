// users.go — admin endpoints поиска пользователей identity-сервиса.
// Используется при провижионинге профилей: проверка дубликатов и
// поиск субъекта по email.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/identity"
)

// UsersHandler — обработчик endpoints пользователей identity-сервиса.
type UsersHandler struct {
	identity *identity.Client
	logger   *slog.Logger
}

// NewUsersHandler создаёт обработчик endpoints пользователей.
func NewUsersHandler(client *identity.Client, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{
		identity: client,
		logger:   logger.With(slog.String("component", "users_handler")),
	}
}

// Lookup обрабатывает GET /api/v1/users/lookup (admin only).
// С параметром email — поиск по адресу, без него — страница списка
// зарегистрированных пользователей.
func (h *UsersHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if email := r.URL.Query().Get("email"); email != "" {
		users, err := h.identity.FindByEmail(r.Context(), email)
		if err != nil {
			h.logger.Error("Ошибка поиска пользователя по email", slog.String("error", err.Error()))
			apierrors.UpstreamError(w, "Identity-сервис недоступен")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": users,
			"count": len(users),
		})
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
		if limit <= 0 || limit > 1000 {
			apierrors.ValidationError(w, "Параметр limit должен быть от 1 до 1000")
			return
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
		if offset < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
	}

	resp, err := h.identity.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка пользователей", slog.String("error", err.Error()))
		apierrors.UpstreamError(w, "Identity-сервис недоступен")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
