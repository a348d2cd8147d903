package model

import "time"

// Attachment — запись о загруженном вложении в таблице attachments.
type Attachment struct {
	// ID — UUID записи
	ID string `json:"id"`
	// OwnerID — идентификатор загрузившего пользователя (sub из токена)
	OwnerID string `json:"owner_id"`
	// OriginalName — имя файла, присланное клиентом
	OriginalName string `json:"original_name"`
	// StoredName — уникальное имя файла в хранилище
	StoredName string `json:"stored_name"`
	// Path — относительный путь для клиента (/storage/attachments/<имя>)
	Path string `json:"path"`
	// ContentType — MIME-тип файла
	ContentType string `json:"content_type"`
	// Size — размер файла в байтах
	Size int64 `json:"size"`
	// MD5 — хеш содержимого файла
	MD5 string `json:"md5"`
	// CreatedAt — время загрузки
	CreatedAt time.Time `json:"created_at"`
}

// UploadResult — итог обработки одного файла из multipart-пакета.
// Пакет обрабатывается целиком: отказ одного файла не прерывает остальные.
type UploadResult struct {
	// OriginalName — имя файла из запроса
	OriginalName string `json:"original_name"`
	// Path — относительный путь сохранённого файла (пусто при ошибке)
	Path string `json:"path,omitempty"`
	// Size — размер сохранённого файла в байтах
	Size int64 `json:"size,omitempty"`
	// ContentType — каноничный MIME-тип сохранённого файла
	ContentType string `json:"content_type,omitempty"`
	// MD5 — контрольная сумма содержимого (hex)
	MD5 string `json:"md5,omitempty"`
	// Error — причина отказа (пусто при успехе)
	Error string `json:"error,omitempty"`
}
