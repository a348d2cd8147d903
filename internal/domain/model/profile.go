// Пакет model — доменные модели Portal API.
package model

import "time"

// Profile — профиль пользователя портала, хранится в таблице profiles.
// Аутентификация выполняется identity-сервисом, профиль связывает
// subject токена с локальными данными и ролью.
type Profile struct {
	// UserID — идентификатор пользователя в identity-сервисе (sub из токена)
	UserID string
	// Username — имя пользователя на портале
	Username string
	// DisplayName — отображаемое имя
	DisplayName string
	// Email — адрес электронной почты
	Email string
	// Role — роль на портале (admin, member)
	Role string
	// CreatedAt — время создания профиля
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
