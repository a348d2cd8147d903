// Пакет validate — проверка тел запросов по принципу allow-list:
// поля, не перечисленные в required/optional, молча отбрасываются,
// отсутствие обязательного поля — ошибка. Значение считается переданным,
// если ключ присутствует и не равен null: 0 и false — допустимые значения.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arturkryukov/gostipend/internal/domain/role"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	scriptRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
)

// FieldsError — совокупность нарушений валидации тела запроса.
// Problems перечисляет нарушения в порядке обнаружения.
type FieldsError struct {
	Problems []string
}

func (e *FieldsError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Fields фильтрует body по allow-list и проверяет обязательные поля.
// Возвращает только разрешённые присутствующие поля. Все нарушения
// собираются в один *FieldsError.
func Fields(body map[string]any, required, optional []string) (map[string]any, error) {
	out := make(map[string]any, len(required)+len(optional))
	var problems []string

	for _, key := range required {
		v, ok := body[key]
		if !ok || v == nil {
			problems = append(problems, fmt.Sprintf("поле %q обязательно", key))
			continue
		}
		out[key] = v
	}

	for _, key := range optional {
		v, ok := body[key]
		if !ok || v == nil {
			continue
		}
		out[key] = v
	}

	for key, v := range out {
		if msg := checkField(key, v); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return nil, &FieldsError{Problems: problems}
	}
	return out, nil
}

// checkField применяет правила для известных полей. Возвращает текст
// нарушения или пустую строку.
func checkField(key string, v any) string {
	switch key {
	case "username":
		s, ok := v.(string)
		if !ok || !usernameRe.MatchString(strings.ToLower(s)) {
			return "поле \"username\" должно содержать 3-32 символа: строчные буквы, цифры, _ и -"
		}
	case "role":
		s, ok := v.(string)
		if !ok || !role.IsValid(s) {
			return fmt.Sprintf("поле \"role\" должно быть одним из: %s, %s", role.Admin, role.Member)
		}
	case "email":
		s, ok := v.(string)
		if !ok || !emailRe.MatchString(s) {
			return "поле \"email\" имеет недопустимый формат"
		}
	}
	return ""
}

// Sanitize очищает строковые значения: вырезает блоки <script>...</script>
// и оставшиеся угловые скобки. Защита в глубину, а не замена экранирования
// на стороне отображения.
func Sanitize(fields map[string]any) map[string]any {
	for key, v := range fields {
		s, ok := v.(string)
		if !ok {
			continue
		}
		fields[key] = SanitizeString(s)
	}
	return fields
}

// SanitizeString очищает одну строку.
func SanitizeString(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	return strings.TrimSpace(s)
}
