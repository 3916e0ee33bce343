package models

import "time"

// User: учётная запись пользователя.
//
// PasswordHash заполняется только методами хранилища, которые явно
// предназначены для проверки пароля; в остальных случаях поле пустое
// и наружу (в HTTP-ответы, логи) не попадает.
type User struct {
	ID            int64
	Email         string
	Name          string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClientMeta: сведения о клиенте, сохраняемые вместе с сессией.
type ClientMeta struct {
	IP        string
	UserAgent string
}
