package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/gostipend/internal/domain/model"
)

// ProfileRepository — CRUD для таблицы profiles.
type ProfileRepository interface {
	// Create создаёт профиль пользователя.
	Create(ctx context.Context, p *model.Profile) error
	// GetByUserID возвращает профиль по идентификатору identity-сервиса.
	GetByUserID(ctx context.Context, userID string) (*model.Profile, error)
	// GetByUsername возвращает профиль по имени пользователя.
	GetByUsername(ctx context.Context, username string) (*model.Profile, error)
	// List возвращает страницу профилей, упорядоченных по username.
	List(ctx context.Context, limit, offset int) ([]*model.Profile, error)
	// Update обновляет display_name, email и role профиля.
	Update(ctx context.Context, p *model.Profile) error
	// Count возвращает количество профилей.
	Count(ctx context.Context) (int, error)
}

// profileRepo — реализация ProfileRepository.
type profileRepo struct {
	db DBTX
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) Create(ctx context.Context, p *model.Profile) error {
	query := `
		INSERT INTO profiles (user_id, username, display_name, email, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.UserID, p.Username, p.DisplayName, p.Email, p.Role,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: профиль с таким user_id или username уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания профиля: %w", err)
	}
	return nil
}

func (r *profileRepo) GetByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	query := `
		SELECT user_id, username, display_name, email, role, created_at, updated_at
		FROM profiles
		WHERE user_id = $1`

	return r.scanOne(r.db.QueryRow(ctx, query, userID))
}

func (r *profileRepo) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	query := `
		SELECT user_id, username, display_name, email, role, created_at, updated_at
		FROM profiles
		WHERE username = $1`

	return r.scanOne(r.db.QueryRow(ctx, query, username))
}

func (r *profileRepo) List(ctx context.Context, limit, offset int) ([]*model.Profile, error) {
	query := `
		SELECT user_id, username, display_name, email, role, created_at, updated_at
		FROM profiles
		ORDER BY username
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка профилей: %w", err)
	}
	defer rows.Close()

	var result []*model.Profile
	for rows.Next() {
		p := &model.Profile{}
		if err := rows.Scan(
			&p.UserID, &p.Username, &p.DisplayName, &p.Email, &p.Role,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования профиля: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *profileRepo) Update(ctx context.Context, p *model.Profile) error {
	query := `
		UPDATE profiles
		SET display_name = $2, email = $3, role = $4, updated_at = now()
		WHERE user_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.UserID, p.DisplayName, p.Email, p.Role,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления профиля: %w", err)
	}
	return nil
}

func (r *profileRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта профилей: %w", err)
	}
	return count, nil
}

// scanOne сканирует одну строку профиля.
func (r *profileRepo) scanOne(row pgx.Row) (*model.Profile, error) {
	p := &model.Profile{}
	err := row.Scan(
		&p.UserID, &p.Username, &p.DisplayName, &p.Email, &p.Role,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля: %w", err)
	}
	return p, nil
}
