package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/domain/model"
	"github.com/arturkryukov/gostipend/internal/domain/role"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/service"
	"github.com/arturkryukov/gostipend/internal/storage/filestore"
)

// memAttachments — in-memory реестр вложений для тестов handlers.
type memAttachments struct {
	byStoredName map[string]*model.Attachment
}

func (m *memAttachments) Register(_ context.Context, a *model.Attachment) error {
	m.byStoredName[a.StoredName] = a
	return nil
}

func (m *memAttachments) GetByStoredName(_ context.Context, storedName string) (*model.Attachment, error) {
	a, ok := m.byStoredName[storedName]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (m *memAttachments) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]*model.Attachment, error) {
	var out []*model.Attachment
	for _, a := range m.byStoredName {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttachments) DeleteByStoredName(_ context.Context, storedName string) (bool, error) {
	if _, ok := m.byStoredName[storedName]; !ok {
		return false, nil
	}
	delete(m.byStoredName, storedName)
	return true, nil
}

// newAttachmentsRouter собирает chi router с endpoints вложений.
func newAttachmentsRouter(t *testing.T) *chi.Mux {
	return newAttachmentsRouterWithMax(t, 1<<20)
}

func newAttachmentsRouterWithMax(t *testing.T, maxFileSize int64) *chi.Mux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	attachments := &memAttachments{byStoredName: map[string]*model.Attachment{}}
	uploadSvc := service.NewUploadService(maxFileSize, store, attachments, logger)
	h := NewAttachmentsHandler(uploadSvc, attachments, store)

	router := chi.NewRouter()
	router.Post("/api/v1/attachments", h.Upload)
	router.Delete("/api/v1/attachments", h.Delete)
	router.Get("/api/v1/attachments", h.List)
	router.Get("/storage/attachments/{name}", h.Serve)
	return router
}

// withAuth добавляет AuthContext пользователя в контекст запроса.
func withAuth(r *http.Request, subject string) *http.Request {
	ac := &middleware.AuthContext{
		Subject: subject,
		Role:    role.Member,
		Profile: &model.Profile{UserID: subject, Username: "test_user", Role: role.Member},
	}
	return r.WithContext(context.WithValue(r.Context(), middleware.ContextKeyAuth, ac))
}

// uploadOne загружает один файл через handler и возвращает относительный путь.
func uploadOne(t *testing.T, router *chi.Mux, name string, content []byte) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", name)
	if err != nil {
		t.Fatalf("ошибка создания части multipart: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("ошибка записи части multipart: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withAuth(req, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("загрузка: ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}

	var result service.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("ошибка разбора ответа загрузки: %v", err)
	}
	if len(result.Uploaded) != 1 || len(result.Errors) != 0 {
		t.Fatalf("неожиданный результат загрузки: %+v", result)
	}
	return result.Uploaded[0].Path
}

// TestAttachments_UploadServeRoundTrip — загруженный файл читается обратно
// по возвращённому относительному пути байт в байт с исходным MIME-типом.
func TestAttachments_UploadServeRoundTrip(t *testing.T) {
	router := newAttachmentsRouter(t)

	content := []byte("%PDF-1.4 содержимое заявления")
	path := uploadOne(t, router, "statement.pdf", content)

	if !strings.HasPrefix(path, "/storage/attachments/") {
		t.Fatalf("неожиданный путь: %q", path)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("чтение: ожидался статус 200, получен %d", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, ожидается application/pdf", ct)
	}
}

// TestAttachments_UploadNoFiles — пакет без поля files отклоняется.
func TestAttachments_UploadNoFiles(t *testing.T) {
	router := newAttachmentsRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("comment", "без файлов")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withAuth(req, "user-1"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", rec.Code)
	}
}

// TestAttachments_DeleteIdempotent — повторное удаление через handler успешно.
func TestAttachments_DeleteIdempotent(t *testing.T) {
	router := newAttachmentsRouter(t)
	path := uploadOne(t, router, "doc.pdf", []byte("data"))

	deleteReq := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"filePath": path})
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/attachments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withAuth(req, "user-1"))
		return rec
	}

	if rec := deleteReq(); rec.Code != http.StatusOK {
		t.Fatalf("первое удаление: ожидался статус 200, получен %d", rec.Code)
	}
	if rec := deleteReq(); rec.Code != http.StatusOK {
		t.Fatalf("повторное удаление: ожидался статус 200, получен %d", rec.Code)
	}

	// Файл больше не отдаётся
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("после удаления: ожидался статус 404, получен %d", rec.Code)
	}
}

// TestAttachments_DeleteOutsideStorage — путь вне хранилища отклоняется.
func TestAttachments_DeleteOutsideStorage(t *testing.T) {
	router := newAttachmentsRouter(t)

	body, _ := json.Marshal(map[string]string{"filePath": "/etc/passwd"})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/attachments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withAuth(req, "user-1"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", rec.Code)
	}
}

// TestAttachments_UploadBodyTooLarge — пакет, превышающий потолок тела
// запроса, отклоняется с 413 FILE_TOO_LARGE.
func TestAttachments_UploadBodyTooLarge(t *testing.T) {
	// потолок тела = maxFileSize * 20 = 20 КиБ
	router := newAttachmentsRouterWithMax(t, 1024)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "huge.pdf")
	if err != nil {
		t.Fatalf("ошибка создания части multipart: %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("a"), 64<<10)); err != nil {
		t.Fatalf("ошибка записи части multipart: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withAuth(req, "user-1"))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("ожидался статус 413, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("конверт ошибки не JSON: %v", err)
	}
	if payload["code"] != "FILE_TOO_LARGE" {
		t.Errorf("code = %v, ожидается FILE_TOO_LARGE", payload["code"])
	}
}
