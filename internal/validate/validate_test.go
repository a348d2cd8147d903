package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestFields_AllowList(t *testing.T) {
	body := map[string]any{
		"username": "ivanov_ii",
		"email":    "ivanov@university.lan",
		"is_admin": true,
		"__proto":  "polluted",
	}

	out, err := Fields(body, []string{"username"}, []string{"email"})
	if err != nil {
		t.Fatalf("Fields() вернул ошибку: %v", err)
	}

	if out["username"] != "ivanov_ii" {
		t.Errorf("username = %v, ожидается ivanov_ii", out["username"])
	}
	if out["email"] != "ivanov@university.lan" {
		t.Errorf("email = %v, ожидается ivanov@university.lan", out["email"])
	}
	if _, ok := out["is_admin"]; ok {
		t.Error("поле is_admin вне allow-list не должно попадать в результат")
	}
	if _, ok := out["__proto"]; ok {
		t.Error("поле __proto вне allow-list не должно попадать в результат")
	}
}

func TestFields_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "ключ отсутствует", body: map[string]any{}},
		{name: "значение null", body: map[string]any{"username": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fields(tt.body, []string{"username"}, nil)
			if err == nil {
				t.Fatal("Fields() не вернул ошибку при отсутствии обязательного поля")
			}
			if !strings.Contains(err.Error(), "username") {
				t.Errorf("ошибка %q не называет отсутствующее поле", err.Error())
			}
		})
	}
}

func TestFields_FalsyValuesArePresent(t *testing.T) {
	// 0 и false — переданные значения, а не отсутствие поля
	body := map[string]any{
		"amount": float64(0),
		"active": false,
	}

	out, err := Fields(body, []string{"amount", "active"}, nil)
	if err != nil {
		t.Fatalf("Fields() вернул ошибку для falsy-значений: %v", err)
	}

	if out["amount"] != float64(0) {
		t.Errorf("amount = %v, ожидается 0", out["amount"])
	}
	if out["active"] != false {
		t.Errorf("active = %v, ожидается false", out["active"])
	}
}

func TestFields_UsernameRules(t *testing.T) {
	tests := []struct {
		username string
		wantErr  bool
	}{
		{"ivanov_ii", false},
		{"user-01", false},
		{"abc", false},
		{"IVANOV", false}, // приводится к нижнему регистру перед проверкой
		{"ab", true},
		{strings.Repeat("a", 33), true},
		{"иванов", true},
		{"user name", true},
		{"user@host", true},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			_, err := Fields(map[string]any{"username": tt.username}, []string{"username"}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Fields(username=%q) err = %v, wantErr = %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestFields_RoleEnum(t *testing.T) {
	tests := []struct {
		role    any
		wantErr bool
	}{
		{"admin", false},
		{"member", false},
		{"root", true},
		{"", true},
		{42, true},
	}

	for _, tt := range tests {
		t.Run("role", func(t *testing.T) {
			_, err := Fields(map[string]any{"role": tt.role}, []string{"role"}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Fields(role=%v) err = %v, wantErr = %v", tt.role, err, tt.wantErr)
			}
		})
	}
}

func TestFields_AggregatesProblems(t *testing.T) {
	body := map[string]any{
		"role":  "root",
		"email": "not-an-email",
	}

	_, err := Fields(body, []string{"username", "role"}, []string{"email"})
	if err == nil {
		t.Fatal("Fields() не вернул ошибку")
	}

	msg := err.Error()
	for _, field := range []string{"username", "role", "email"} {
		if !strings.Contains(msg, field) {
			t.Errorf("сводная ошибка %q не упоминает поле %s", msg, field)
		}
	}
	if !strings.Contains(msg, ", ") {
		t.Errorf("сообщения должны быть разделены запятыми: %q", msg)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "script-блок вырезается",
			input: "hello <script>alert('x')</script>world",
			want:  "hello world",
		},
		{
			name:  "script с атрибутами",
			input: `<script type="text/javascript">evil()</script>ok`,
			want:  "ok",
		},
		{
			name:  "угловые скобки удаляются",
			input: "a <b> c",
			want:  "a b c",
		},
		{
			name:  "обычная строка без изменений",
			input: "Иванов Иван",
			want:  "Иванов Иван",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeString(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeString(%q) = %q, ожидается %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_OnlyStrings(t *testing.T) {
	fields := map[string]any{
		"name":   "<b>Иванов</b>",
		"amount": float64(1500),
	}

	out := Sanitize(fields)
	if out["name"] != "bИванов/b" {
		t.Errorf("name = %v, ожидается bИванов/b", out["name"])
	}
	if out["amount"] != float64(1500) {
		t.Errorf("нестроковое значение не должно меняться: %v", out["amount"])
	}
}

// TestFields_ProblemList — нарушения собираются в *FieldsError,
// по одному сообщению на поле.
func TestFields_ProblemList(t *testing.T) {
	body := map[string]any{
		"username": "x",
		"email":    "не-адрес",
	}

	_, err := Fields(body, []string{"username", "role"}, []string{"email"})
	if err == nil {
		t.Fatal("Fields() не вернул ошибку")
	}

	var ferr *FieldsError
	if !errors.As(err, &ferr) {
		t.Fatalf("ошибка имеет тип %T, ожидается *FieldsError", err)
	}
	if len(ferr.Problems) != 3 {
		t.Errorf("Problems = %d, ожидается 3: %v", len(ferr.Problems), ferr.Problems)
	}
	if !strings.Contains(err.Error(), "role") {
		t.Errorf("Error() %q не называет отсутствующее поле role", err.Error())
	}
}
