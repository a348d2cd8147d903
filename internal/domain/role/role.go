// Пакет role — роли пользователей портала и проверка прав доступа.
// Роль хранится в профиле пользователя в БД портала, а не в токене:
// identity-сервис отвечает за аутентификацию, портал — за авторизацию.
package role

// Роли в порядке возрастания привилегий.
const (
	Member = "member"
	Admin  = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	Member: 1,
	Admin:  2,
}

// IsValid проверяет, является ли строка допустимой ролью.
func IsValid(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// Satisfies сообщает, достаточно ли роли have для требования required.
// Роль admin покрывает member, обратное неверно.
func Satisfies(have, required string) bool {
	wh, ok := roleWeight[have]
	if !ok {
		return false
	}
	wr, ok := roleWeight[required]
	if !ok {
		return false
	}
	return wh >= wr
}
