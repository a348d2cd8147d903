package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/arturkryukov/gostipend/internal/domain/model"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/storage/filestore"
)

// testLogger — логгер для тестов, пишет только ошибки.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAttachments — in-memory реализация AttachmentRepository.
type fakeAttachments struct {
	byStoredName map[string]*model.Attachment
	registerErr  error
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{byStoredName: map[string]*model.Attachment{}}
}

func (f *fakeAttachments) Register(_ context.Context, a *model.Attachment) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.byStoredName[a.StoredName] = a
	return nil
}

func (f *fakeAttachments) GetByStoredName(_ context.Context, storedName string) (*model.Attachment, error) {
	a, ok := f.byStoredName[storedName]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAttachments) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]*model.Attachment, error) {
	var out []*model.Attachment
	for _, a := range f.byStoredName {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttachments) DeleteByStoredName(_ context.Context, storedName string) (bool, error) {
	if _, ok := f.byStoredName[storedName]; !ok {
		return false, nil
	}
	delete(f.byStoredName, storedName)
	return true, nil
}

// testFile — описание файла для сборки multipart-пакета в тестах.
type testFile struct {
	name        string
	contentType string
	content     []byte
}

// buildBatch собирает multipart-пакет и возвращает заголовки поля files.
func buildBatch(t *testing.T, files []testFile) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, f.name))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("ошибка создания части multipart: %v", err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatalf("ошибка записи части multipart: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("ошибка закрытия multipart: %v", err)
	}

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("ошибка разбора multipart: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["files"]
}

func newTestService(t *testing.T, maxFileSize int64, attachments repository.AttachmentRepository) (*UploadService, *filestore.FileStore) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return NewUploadService(maxFileSize, store, attachments, testLogger()), store
}

// TestProcessBatch_MixedBatch — пакет с валидными и невалидными файлами:
// валидные сохраняются, невалидные собираются в errors, на диске ровно
// столько файлов, сколько в uploaded.
func TestProcessBatch_MixedBatch(t *testing.T) {
	attachments := newFakeAttachments()
	svc, store := newTestService(t, 1024, attachments)

	headers := buildBatch(t, []testFile{
		{name: "statement.pdf", contentType: "application/pdf", content: []byte("%PDF-1.4 test")},
		{name: "photo.png", contentType: "image/png", content: []byte("png-bytes")},
		{name: "malware.exe", contentType: "application/octet-stream", content: []byte("MZ")},
		{name: "huge.pdf", contentType: "application/pdf", content: bytes.Repeat([]byte("a"), 2048)},
		{name: "empty.pdf", contentType: "application/pdf", content: nil},
	})

	result := svc.ProcessBatch(context.Background(), "user-1", headers)

	if len(result.Uploaded) != 2 {
		t.Fatalf("uploaded = %d, ожидается 2: %+v", len(result.Uploaded), result)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("errors = %d, ожидается 3: %+v", len(result.Errors), result)
	}

	for _, u := range result.Uploaded {
		if !strings.HasPrefix(u.Path, StoragePrefix) {
			t.Errorf("путь %q не начинается с %q", u.Path, StoragePrefix)
		}
	}

	// На диске ровно два файла
	entries, err := os.ReadDir(store.DataDir())
	if err != nil {
		t.Fatalf("ошибка чтения директории хранилища: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("файлов на диске = %d, ожидается 2", len(entries))
	}

	// Реестр заполнен
	if len(attachments.byStoredName) != 2 {
		t.Errorf("записей в реестре = %d, ожидается 2", len(attachments.byStoredName))
	}
}

// TestProcessBatch_RoundTrip — сохранённый файл читается обратно байт в байт.
func TestProcessBatch_RoundTrip(t *testing.T) {
	svc, store := newTestService(t, 1<<20, newFakeAttachments())

	content := []byte("round trip content")
	headers := buildBatch(t, []testFile{
		{name: "doc.pdf", contentType: "application/pdf", content: content},
	})

	result := svc.ProcessBatch(context.Background(), "user-1", headers)
	if len(result.Uploaded) != 1 {
		t.Fatalf("uploaded = %d, ожидается 1: %+v", len(result.Uploaded), result)
	}

	up := result.Uploaded[0]
	if up.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, ожидается application/pdf", up.ContentType)
	}
	wantMD5 := fmt.Sprintf("%x", md5.Sum(content))
	if up.MD5 != wantMD5 {
		t.Errorf("MD5 = %q, ожидается %q", up.MD5, wantMD5)
	}
	if up.Size != int64(len(content)) {
		t.Errorf("Size = %d, ожидается %d", up.Size, len(content))
	}

	storedName := strings.TrimPrefix(up.Path, StoragePrefix)
	f, err := store.ReadFile(storedName)
	if err != nil {
		t.Fatalf("ошибка чтения сохранённого файла: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения содержимого: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q != %q", got, content)
	}
}

// TestProcessBatch_MIMEMismatch — допустимое расширение, но недопустимый
// заявленный MIME-тип отклоняется.
func TestProcessBatch_MIMEMismatch(t *testing.T) {
	svc, _ := newTestService(t, 1<<20, newFakeAttachments())

	headers := buildBatch(t, []testFile{
		{name: "page.pdf", contentType: "text/html", content: []byte("<html>")},
	})

	result := svc.ProcessBatch(context.Background(), "user-1", headers)
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %d, ожидается 1: %+v", len(result.Errors), result)
	}
	if !strings.Contains(result.Errors[0].Error, "MIME") {
		t.Errorf("ожидалась ошибка MIME-типа, получено: %q", result.Errors[0].Error)
	}
}

// TestProcessBatch_OctetStreamFallback — octet-stream из браузера не
// отклоняется, тип определяется по расширению.
func TestProcessBatch_OctetStreamFallback(t *testing.T) {
	attachments := newFakeAttachments()
	svc, _ := newTestService(t, 1<<20, attachments)

	headers := buildBatch(t, []testFile{
		{name: "scan.jpg", contentType: "application/octet-stream", content: []byte("jpeg-bytes")},
	})

	result := svc.ProcessBatch(context.Background(), "user-1", headers)
	if len(result.Uploaded) != 1 {
		t.Fatalf("uploaded = %d, ожидается 1: %+v", len(result.Uploaded), result)
	}
	if got := result.Uploaded[0].ContentType; got != "image/jpeg" {
		t.Errorf("ContentType в итоге = %q, ожидается image/jpeg", got)
	}

	for _, a := range attachments.byStoredName {
		if a.ContentType != "image/jpeg" {
			t.Errorf("ContentType = %q, ожидается image/jpeg", a.ContentType)
		}
	}
}

// TestProcessBatch_RegisterRollback — при ошибке регистрации файл
// удаляется с диска.
func TestProcessBatch_RegisterRollback(t *testing.T) {
	attachments := newFakeAttachments()
	attachments.registerErr = errors.New("БД недоступна")
	svc, store := newTestService(t, 1<<20, attachments)

	headers := buildBatch(t, []testFile{
		{name: "doc.pdf", contentType: "application/pdf", content: []byte("data")},
	})

	result := svc.ProcessBatch(context.Background(), "user-1", headers)
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %d, ожидается 1: %+v", len(result.Errors), result)
	}

	entries, err := os.ReadDir(store.DataDir())
	if err != nil {
		t.Fatalf("ошибка чтения директории хранилища: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("файлов на диске = %d, ожидается 0 после отката", len(entries))
	}
}

// TestDelete_Idempotent — повторное удаление того же пути успешно.
func TestDelete_Idempotent(t *testing.T) {
	attachments := newFakeAttachments()
	svc, store := newTestService(t, 1<<20, attachments)

	headers := buildBatch(t, []testFile{
		{name: "doc.pdf", contentType: "application/pdf", content: []byte("data")},
	})
	result := svc.ProcessBatch(context.Background(), "user-1", headers)
	if len(result.Uploaded) != 1 {
		t.Fatalf("uploaded = %d, ожидается 1", len(result.Uploaded))
	}
	path := result.Uploaded[0].Path

	if err := svc.Delete(context.Background(), "user-1", path); err != nil {
		t.Fatalf("первое удаление: %v", err)
	}
	if err := svc.Delete(context.Background(), "user-1", path); err != nil {
		t.Fatalf("повторное удаление: %v", err)
	}

	storedName := strings.TrimPrefix(path, StoragePrefix)
	if store.FileExists(storedName) {
		t.Error("файл остался на диске после удаления")
	}
	if len(attachments.byStoredName) != 0 {
		t.Error("запись осталась в реестре после удаления")
	}
}

// TestDelete_OutsideStorage — пути вне дерева вложений отклоняются.
func TestDelete_OutsideStorage(t *testing.T) {
	svc, _ := newTestService(t, 1<<20, newFakeAttachments())

	tests := []struct {
		name string
		path string
	}{
		{"абсолютный путь", "/etc/passwd"},
		{"обход через ..", "/storage/attachments/../secret"},
		{"две точки", "/storage/attachments/.."},
		{"пустое имя", "/storage/attachments/"},
		{"чужой префикс", "/storage/other/file.pdf"},
		{"пустая строка", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Delete(context.Background(), "user-1", tt.path)
			if !errors.Is(err, ErrPathOutsideStorage) {
				t.Errorf("ожидалась ErrPathOutsideStorage, получено: %v", err)
			}
		})
	}
}
