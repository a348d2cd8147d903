// Пакет service — бизнес-логика портала.
// upload.go — пакетная загрузка вложений и удаление по относительному пути.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/arturkryukov/gostipend/internal/api/middleware"
	"github.com/arturkryukov/gostipend/internal/domain/model"
	"github.com/arturkryukov/gostipend/internal/repository"
	"github.com/arturkryukov/gostipend/internal/storage/filestore"
)

// StoragePrefix — публичный префикс путей вложений. Клиенты видят только
// относительные пути вида /storage/attachments/<имя>, абсолютный путь
// на диске наружу не выходит.
const StoragePrefix = "/storage/attachments/"

// ErrPathOutsideStorage — путь удаления вне дерева вложений.
var ErrPathOutsideStorage = errors.New("путь вне хранилища вложений")

// allowedFileTypes — допустимые расширения вложений и их канонические
// MIME-типы: PDF, офисные форматы и изображения.
var allowedFileTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// allowedMIMETypes — обратный индекс по allowedFileTypes.
var allowedMIMETypes = func() map[string]bool {
	m := make(map[string]bool, len(allowedFileTypes))
	for _, mt := range allowedFileTypes {
		m[mt] = true
	}
	return m
}()

// BatchResult — итог обработки multipart-пакета. Пакет не транзакция:
// отказ отдельных файлов попадает в Errors, остальные сохраняются.
type BatchResult struct {
	Uploaded []model.UploadResult `json:"uploaded"`
	Errors   []model.UploadResult `json:"errors"`
}

// UploadService — сервис загрузки вложений.
type UploadService struct {
	maxFileSize int64
	store       *filestore.FileStore
	attachments repository.AttachmentRepository
	logger      *slog.Logger
}

// NewUploadService создаёт сервис загрузки вложений.
func NewUploadService(
	maxFileSize int64,
	store *filestore.FileStore,
	attachments repository.AttachmentRepository,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		maxFileSize: maxFileSize,
		store:       store,
		attachments: attachments,
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// MaxFileSize возвращает лимит размера одного файла в байтах.
func (s *UploadService) MaxFileSize() int64 {
	return s.maxFileSize
}

// ProcessBatch обрабатывает файлы multipart-пакета в порядке клиента.
// Каждый файл проверяется и сохраняется независимо, ошибки собираются
// по-файлово. subject — идентификатор загрузившего пользователя.
func (s *UploadService) ProcessBatch(ctx context.Context, subject string, files []*multipart.FileHeader) *BatchResult {
	result := &BatchResult{
		Uploaded: []model.UploadResult{},
		Errors:   []model.UploadResult{},
	}

	for i, header := range files {
		uploaded, err := s.processOne(ctx, subject, header, i)
		if err != nil {
			middleware.UploadsTotal.WithLabelValues("error").Inc()
			result.Errors = append(result.Errors, model.UploadResult{
				OriginalName: header.Filename,
				Error:        err.Error(),
			})
			continue
		}
		middleware.UploadsTotal.WithLabelValues("success").Inc()
		result.Uploaded = append(result.Uploaded, *uploaded)
	}

	return result
}

// processOne проверяет и сохраняет один файл пакета.
//
// Поток:
//  1. Проверка расширения, MIME-типа и размера
//  2. SaveFile (streaming + MD5, temp → fsync → rename)
//  3. Регистрация в БД
//
// При ошибке регистрации файл удаляется с диска.
func (s *UploadService) processOne(ctx context.Context, subject string, header *multipart.FileHeader, batchIndex int) (*model.UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	canonicalType, ok := allowedFileTypes[ext]
	if !ok {
		return nil, fmt.Errorf("недопустимый тип файла %q", ext)
	}

	contentType := header.Header.Get("Content-Type")
	switch {
	case contentType == "" || contentType == "application/octet-stream":
		// Браузеры не всегда определяют тип, используем канонический
		contentType = canonicalType
	case !allowedMIMETypes[contentType]:
		return nil, fmt.Errorf("недопустимый MIME-тип %q", contentType)
	}

	if header.Size == 0 {
		return nil, errors.New("пустой файл")
	}
	if header.Size > s.maxFileSize {
		return nil, fmt.Errorf("размер файла %d байт превышает максимум %d байт", header.Size, s.maxFileSize)
	}

	file, err := header.Open()
	if err != nil {
		s.logger.Error("Ошибка открытия части multipart",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("не удалось прочитать файл из запроса")
	}
	defer file.Close()

	saved, err := s.store.SaveFile(file, ext, batchIndex)
	if err != nil {
		s.logger.Error("Ошибка сохранения файла",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("ошибка сохранения файла на диск")
	}

	relPath := StoragePrefix + saved.StoredName

	attachment := &model.Attachment{
		ID:           uuid.New().String(),
		OwnerID:      subject,
		OriginalName: header.Filename,
		StoredName:   saved.StoredName,
		Path:         relPath,
		ContentType:  contentType,
		Size:         saved.Size,
		MD5:          saved.MD5,
	}
	if err := s.attachments.Register(ctx, attachment); err != nil {
		// Откат: файл без записи в реестре недостижим для клиента
		_ = s.store.DeleteFile(saved.StoredName)
		s.logger.Error("Ошибка регистрации вложения",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("ошибка регистрации вложения")
	}

	// Абсолютный путь на диске в лог не попадает
	s.logger.Info("Файл загружен",
		slog.String("subject", subject),
		slog.String("filename", header.Filename),
		slog.String("path", relPath),
		slog.Int64("size", saved.Size),
		slog.String("md5", saved.MD5),
	)

	return &model.UploadResult{
		OriginalName: header.Filename,
		Path:         relPath,
		Size:         saved.Size,
		ContentType:  contentType,
		MD5:          saved.MD5,
	}, nil
}

// Delete удаляет вложение по относительному пути клиента.
// Путь обязан лежать в дереве /storage/attachments/, иначе
// ErrPathOutsideStorage. Отсутствующий файл — не ошибка: повторное
// удаление идемпотентно.
func (s *UploadService) Delete(ctx context.Context, subject, filePath string) error {
	storedName, ok := strings.CutPrefix(filePath, StoragePrefix)
	if !ok || storedName == "" {
		return ErrPathOutsideStorage
	}

	existed := s.store.FileExists(storedName)

	if err := s.store.DeleteFile(storedName); err != nil {
		if errors.Is(err, filestore.ErrUnsafeName) {
			return ErrPathOutsideStorage
		}
		s.logger.Error("Ошибка удаления файла",
			slog.String("subject", subject),
			slog.String("path", filePath),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}

	deleted, err := s.attachments.DeleteByStoredName(ctx, storedName)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи вложения: %w", err)
	}

	s.logger.Info("Файл удалён",
		slog.String("subject", subject),
		slog.String("path", filePath),
		slog.Bool("existed", existed),
		slog.Bool("registered", deleted),
	)
	return nil
}
