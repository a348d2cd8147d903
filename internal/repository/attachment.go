package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/gostipend/internal/domain/model"
)

// AttachmentRepository — реестр загруженных вложений.
type AttachmentRepository interface {
	// Register создаёт запись о сохранённом файле.
	Register(ctx context.Context, a *model.Attachment) error
	// GetByStoredName возвращает запись по имени файла в хранилище.
	GetByStoredName(ctx context.Context, storedName string) (*model.Attachment, error)
	// ListByOwner возвращает вложения пользователя, новые первыми.
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Attachment, error)
	// DeleteByStoredName удаляет запись. Отсутствие записи — не ошибка,
	// возвращает признак того, была ли запись удалена.
	DeleteByStoredName(ctx context.Context, storedName string) (bool, error)
}

// attachmentRepo — реализация AttachmentRepository.
type attachmentRepo struct {
	db DBTX
}

// NewAttachmentRepository создаёт репозиторий вложений.
func NewAttachmentRepository(db DBTX) AttachmentRepository {
	return &attachmentRepo{db: db}
}

func (r *attachmentRepo) Register(ctx context.Context, a *model.Attachment) error {
	query := `
		INSERT INTO attachments (id, owner_id, original_name, stored_name, path,
			content_type, size, md5)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.OwnerID, a.OriginalName, a.StoredName, a.Path,
		a.ContentType, a.Size, a.MD5,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: вложение с таким именем уже зарегистрировано", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации вложения: %w", err)
	}
	return nil
}

func (r *attachmentRepo) GetByStoredName(ctx context.Context, storedName string) (*model.Attachment, error) {
	query := `
		SELECT id, owner_id, original_name, stored_name, path, content_type, size, md5, created_at
		FROM attachments
		WHERE stored_name = $1`

	a := &model.Attachment{}
	err := r.db.QueryRow(ctx, query, storedName).Scan(
		&a.ID, &a.OwnerID, &a.OriginalName, &a.StoredName, &a.Path,
		&a.ContentType, &a.Size, &a.MD5, &a.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения вложения: %w", err)
	}
	return a, nil
}

func (r *attachmentRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Attachment, error) {
	query := `
		SELECT id, owner_id, original_name, stored_name, path, content_type, size, md5, created_at
		FROM attachments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка вложений: %w", err)
	}
	defer rows.Close()

	var result []*model.Attachment
	for rows.Next() {
		a := &model.Attachment{}
		if err := rows.Scan(
			&a.ID, &a.OwnerID, &a.OriginalName, &a.StoredName, &a.Path,
			&a.ContentType, &a.Size, &a.MD5, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования вложения: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *attachmentRepo) DeleteByStoredName(ctx context.Context, storedName string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM attachments WHERE stored_name = $1`, storedName)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления вложения: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
