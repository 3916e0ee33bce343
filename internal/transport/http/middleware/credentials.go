package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookie: имя cookie с непрозрачным сессионным токеном.
const SessionCookie = "access_token"

type tokenKey struct{}

// Credentials извлекает "сырые" токены и кладёт их в контекст (TokensFrom).
// Порядок: cookie access_token, затем заголовок Authorization: Bearer.
// Отсутствие токена не ошибка: решение принимает обработчик.
func Credentials() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens := extractTokens(r); len(tokens) > 0 {
				r = r.WithContext(context.WithValue(r.Context(), tokenKey{}, tokens))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokensFrom возвращает все токены запроса в порядке приоритета.
func TokensFrom(ctx context.Context) []string {
	tokens, _ := ctx.Value(tokenKey{}).([]string)
	return tokens
}

// TokenFrom возвращает приоритетный токен запроса или "".
func TokenFrom(ctx context.Context) string {
	if tokens := TokensFrom(ctx); len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

func extractTokens(r *http.Request) []string {
	var tokens []string

	if c, err := r.Cookie(SessionCookie); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			tokens = append(tokens, v)
		}
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		if v := strings.TrimSpace(auth[len(prefix):]); v != "" && (len(tokens) == 0 || tokens[0] != v) {
			tokens = append(tokens, v)
		}
	}

	return tokens
}
