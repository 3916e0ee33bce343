// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены, пароли, хэши токенов).
package redact

import "strings"

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать ровно один '@', иначе "***";
//   - от локальной части остаются первые два символа (по рунам) + "***";
//   - если локальная часть ≤ 2 символов: "***@<domain>";
//   - домен возвращается без изменений.
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Hash оставляет первые 8 символов хэша токена: этого достаточно,
// чтобы сопоставить записи логов со строками БД.
func Hash(h string) string {
	if len(h) <= 8 {
		return "***"
	}

	return h[:8] + "..."
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }
