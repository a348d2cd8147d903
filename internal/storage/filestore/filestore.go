// Пакет filestore — операции с файлами вложений на диске.
// Обеспечивает streaming-запись с подсчётом MD5 на лету, чтение
// и идемпотентное удаление. Хранилище плоское: имена файлов не
// содержат разделителей пути, выход за пределы директории невозможен.
package filestore

import (
	"crypto/md5" //nolint:gosec // Хэш используется для именования, не для криптографии
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnsafeName — имя файла содержит разделители пути или ".." .
var ErrUnsafeName = fmt.Errorf("недопустимое имя файла")

// FileStore — управление файлами вложений на диске.
type FileStore struct {
	// dataDir — корневая директория хранения вложений (SP_STORAGE_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoredName — имя файла в хранилище
	StoredName string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// MD5 — хэш содержимого файла
	MD5 string
}

// New создаёт новый FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// SaveFile записывает данные из reader на диск с подсчётом MD5 на лету.
// Итоговое имя: {md5}_{timestamp}_{batchIndex}_{rand4}{ext} — имя,
// присланное клиентом, в пути не участвует. ext передаётся с точкой
// и в нижнем регистре, batchIndex — порядковый номер файла в пакете.
//
// Паттерн: temp файл → запись + MD5 → fsync → atomic rename.
// Хэш известен только после записи, поэтому temp имя случайное,
// итоговое имя присваивается при rename. При ошибке temp файл удаляется.
func (fs *FileStore) SaveFile(reader io.Reader, ext string, batchIndex int) (*SaveResult, error) {
	tmpPath := filepath.Join(fs.dataDir, "."+uuid.New().String()+".tmp")

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом MD5
	hasher := md5.New() //nolint:gosec
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	storedName := generateStoredName(hex.EncodeToString(hasher.Sum(nil)), ext, batchIndex)
	fullPath := fs.FullPath(storedName)

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoredName: storedName,
		FullPath:   fullPath,
		Size:       size,
		MD5:        hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ReadFile открывает файл для чтения. storedName — имя файла в хранилище.
// Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) ReadFile(storedName string) (*os.File, error) {
	if !safeName(storedName) {
		return nil, ErrUnsafeName
	}

	f, err := os.Open(fs.FullPath(storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден %s: %w", storedName, os.ErrNotExist)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storedName, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storedName string) string {
	return filepath.Join(fs.dataDir, storedName)
}

// DeleteFile удаляет файл с диска. Удаление идемпотентно:
// отсутствующий файл — не ошибка.
func (fs *FileStore) DeleteFile(storedName string) error {
	if !safeName(storedName) {
		return ErrUnsafeName
	}

	err := os.Remove(fs.FullPath(storedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storedName, err)
	}
	return nil
}

// FileExists проверяет существование файла в хранилище.
func (fs *FileStore) FileExists(storedName string) bool {
	if !safeName(storedName) {
		return false
	}
	_, err := os.Stat(fs.FullPath(storedName))
	return err == nil
}

// DataDir возвращает путь к директории хранилища.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// generateStoredName формирует имя файла в хранилище.
// Формат: {md5}_{timestamp}_{batchIndex}_{rand4}{ext}
// Пример: 9e107d9d372bb6826bd81d3542a419d6_20260828150405_0_a1b2.pdf
func generateStoredName(md5sum, ext string, batchIndex int) string {
	ts := time.Now().UTC().Format("20060102150405")
	rand4 := uuid.New().String()[:4]
	return fmt.Sprintf("%s_%s_%d_%s%s", md5sum, ts, batchIndex, rand4, strings.ToLower(ext))
}

// safeName сообщает, является ли имя плоским: без разделителей пути,
// без ".." и не пустым.
func safeName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return true
}
