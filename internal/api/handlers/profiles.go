// profiles.go — HTTP handlers профилей портала.
// Профиль связывает субъект identity-сервиса с ролью и атрибутами
// портала; до создания профиля аутентифицированный пользователь
// получает 404 PROFILE_NOT_FOUND на защищённых endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/domain/model"
	"github.com/arturkryukov/gostipend/internal/domain/role"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/validate"
)

// ProfileInvalidator — сброс кэша профиля после изменения.
type ProfileInvalidator interface {
	Invalidate(subject string)
}

// ProfilesHandler — обработчик endpoints профилей.
type ProfilesHandler struct {
	profiles    repository.ProfileRepository
	invalidator ProfileInvalidator
	logger      *slog.Logger
}

// NewProfilesHandler создаёт обработчик endpoints профилей.
func NewProfilesHandler(profiles repository.ProfileRepository, invalidator ProfileInvalidator, logger *slog.Logger) *ProfilesHandler {
	return &ProfilesHandler{
		profiles:    profiles,
		invalidator: invalidator,
		logger:      logger.With(slog.String("component", "profiles_handler")),
	}
}

// profileResponse — представление профиля в ответах API.
type profileResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		UserID:      p.UserID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        p.Role,
	}
}

// Me обрабатывает GET /api/v1/profiles/me.
// Возвращает профиль текущего пользователя из AuthContext.
func (h *ProfilesHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r.Context())
	if ac == nil || ac.Profile == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(ac.Profile))
}

// Create обрабатывает POST /api/v1/profiles (admin only).
// Провижионинг профиля для субъекта identity-сервиса.
func (h *ProfilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := decodeJSONBody(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректное JSON тело запроса")
		return
	}

	data, err := validate.Fields(body,
		[]string{"user_id", "username", "role"},
		[]string{"display_name", "email"},
	)
	if err != nil {
		writeFieldsError(w, err)
		return
	}
	data = validate.Sanitize(data)

	profile := &model.Profile{
		UserID:      asString(data["user_id"]),
		Username:    asString(data["username"]),
		Role:        asString(data["role"]),
		DisplayName: asString(data["display_name"]),
		Email:       asString(data["email"]),
	}
	if !role.IsValid(profile.Role) {
		apierrors.ValidationError(w, "Недопустимая роль: "+profile.Role)
		return
	}

	// Ранняя проверка занятости username даёт внятный 409 вместо
	// разбора ошибки уникального индекса
	switch _, err := h.profiles.GetByUsername(r.Context(), profile.Username); {
	case err == nil:
		apierrors.Conflict(w, "Username уже занят: "+profile.Username)
		return
	case !errors.Is(err, repository.ErrNotFound):
		h.logger.Error("Ошибка проверки username", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания профиля")
		return
	}

	if err := h.profiles.Create(r.Context(), profile); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Conflict(w, "Профиль с таким user_id или username уже существует")
			return
		}
		h.logger.Error("Ошибка создания профиля", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания профиля")
		return
	}

	h.logger.Info("Профиль создан",
		slog.String("user_id", profile.UserID),
		slog.String("username", profile.Username),
		slog.String("role", profile.Role),
	)
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// Get обрабатывает GET /api/v1/profiles/{id} (admin only).
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	profile, err := h.profiles.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Профиль не найден")
			return
		}
		apierrors.InternalError(w, "Ошибка получения профиля")
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// List обрабатывает GET /api/v1/profiles (admin only).
// Пагинация: limit, offset.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
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

	profiles, err := h.profiles.List(r.Context(), limit, offset)
	if err != nil {
		apierrors.InternalError(w, "Ошибка получения списка профилей")
		return
	}
	total, err := h.profiles.Count(r.Context())
	if err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта профилей")
		return
	}

	items := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toProfileResponse(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Update обрабатывает PATCH /api/v1/profiles/{id} (admin only).
// Изменяет display_name, email и role.
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	body, err := decodeJSONBody(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректное JSON тело запроса")
		return
	}

	data, err := validate.Fields(body, nil, []string{"display_name", "email", "role"})
	if err != nil {
		writeFieldsError(w, err)
		return
	}
	data = validate.Sanitize(data)

	profile, err := h.profiles.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Профиль не найден")
			return
		}
		apierrors.InternalError(w, "Ошибка получения профиля")
		return
	}

	if v, ok := data["display_name"]; ok {
		profile.DisplayName = asString(v)
	}
	if v, ok := data["email"]; ok {
		profile.Email = asString(v)
	}
	if v, ok := data["role"]; ok {
		newRole := asString(v)
		if !role.IsValid(newRole) {
			apierrors.ValidationError(w, "Недопустимая роль: "+newRole)
			return
		}
		profile.Role = newRole
	}

	if err := h.profiles.Update(r.Context(), profile); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Профиль не найден")
			return
		}
		h.logger.Error("Ошибка обновления профиля", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка обновления профиля")
		return
	}

	// Кэш guard-а хранит старую роль до TTL — сбрасываем явно
	if h.invalidator != nil {
		h.invalidator.Invalidate(userID)
	}

	h.logger.Info("Профиль обновлён",
		slog.String("user_id", profile.UserID),
		slog.String("role", profile.Role),
	)
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// asString приводит значение поля после валидации к строке.
func asString(v any) string {
	s, _ := v.(string)
	return s
}
