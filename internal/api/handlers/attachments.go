// attachments.go — HTTP handlers вложений: пакетная загрузка, список,
// удаление и отдача сохранённых файлов.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/service"
	"github.com/arturkryukov/gostipend/internal/storage/filestore"
)

// multipartMemoryLimit — буфер разбора multipart в памяти, остальное
// уходит во временные файлы.
const multipartMemoryLimit = 32 << 20

// batchSizeFactor — максимум файлов максимального размера в одном
// multipart-пакете при расчёте потолка тела запроса.
const batchSizeFactor = 20

// AttachmentsHandler — обработчик endpoints вложений.
type AttachmentsHandler struct {
	uploadSvc   *service.UploadService
	attachments repository.AttachmentRepository
	store       *filestore.FileStore
}

// NewAttachmentsHandler создаёт обработчик endpoints вложений.
func NewAttachmentsHandler(
	uploadSvc *service.UploadService,
	attachments repository.AttachmentRepository,
	store *filestore.FileStore,
) *AttachmentsHandler {
	return &AttachmentsHandler{
		uploadSvc:   uploadSvc,
		attachments: attachments,
		store:       store,
	}
}

// Upload обрабатывает POST /api/v1/attachments.
// Multipart form, поле files (много файлов). Пакет обрабатывается
// целиком: ответ {uploaded: [...], errors: [...]}.
func (h *AttachmentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r.Context())
	if ac == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	// Жёсткий потолок на весь запрос: batchSizeFactor файлов
	// максимального размера плюс multipart-накладные расходы
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadSvc.MaxFileSize()*batchSizeFactor)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			apierrors.FileTooLarge(w, "Суммарный размер пакета превышает лимит")
			return
		}
		apierrors.ValidationError(w, "Ошибка разбора multipart: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		apierrors.ValidationError(w, "Поле 'files' обязательно")
		return
	}

	result := h.uploadSvc.ProcessBatch(r.Context(), ac.Subject, files)
	writeJSON(w, http.StatusOK, result)
}

// Delete обрабатывает DELETE /api/v1/attachments.
// JSON тело {"filePath": "/storage/attachments/<имя>"}. Удаление
// идемпотентно: отсутствующий файл — успех.
func (h *AttachmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r.Context())
	if ac == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	body, err := decodeJSONBody(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректное JSON тело запроса")
		return
	}

	filePath, _ := body["filePath"].(string)
	if filePath == "" {
		apierrors.ValidationError(w, "Поле \"filePath\" обязательно")
		return
	}

	if err := h.uploadSvc.Delete(r.Context(), ac.Subject, filePath); err != nil {
		if errors.Is(err, service.ErrPathOutsideStorage) {
			apierrors.ValidationError(w, "Недопустимый путь файла")
			return
		}
		apierrors.InternalError(w, "Ошибка удаления файла")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Файл удалён"})
}

// List обрабатывает GET /api/v1/attachments.
// Возвращает вложения текущего пользователя, новые первыми.
func (h *AttachmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r.Context())
	if ac == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
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

	items, err := h.attachments.ListByOwner(r.Context(), ac.Subject, limit, offset)
	if err != nil {
		apierrors.InternalError(w, "Ошибка получения списка вложений")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// Serve обрабатывает GET /storage/attachments/{name}.
// Отдаёт сохранённые байты с MIME-типом из реестра вложений.
func (h *AttachmentsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	storedName := chi.URLParam(r, "name")

	meta, err := h.attachments.GetByStoredName(r.Context(), storedName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		apierrors.InternalError(w, "Ошибка чтения реестра вложений")
		return
	}

	f, err := h.store.ReadFile(storedName)
	if err != nil {
		if errors.Is(err, filestore.ErrUnsafeName) || errors.Is(err, os.ErrNotExist) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		apierrors.InternalError(w, "Ошибка чтения файла")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
