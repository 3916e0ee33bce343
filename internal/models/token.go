package models

import "time"

// AccessToken: серверная запись непрозрачного сессионного токена.
// Хранится только SHA-256 хэш; сам токен знает лишь клиент.
type AccessToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastUsedAt time.Time
	UserAgent  string
	IPAddress  string
}

// TokenKind: назначение одноразового токена.
type TokenKind int

const (
	KindPasswordReset TokenKind = iota + 1
	KindEmailVerification
)

// TTL возвращает срок жизни одноразового токена данного вида.
func (k TokenKind) TTL() time.Duration {
	switch k {
	case KindPasswordReset:
		return time.Hour
	case KindEmailVerification:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (k TokenKind) String() string {
	switch k {
	case KindPasswordReset:
		return "password_reset"
	case KindEmailVerification:
		return "email_verification"
	default:
		return "unknown"
	}
}

// OneShotToken: одноразовый токен (сброс пароля или подтверждение e-mail).
// Used выставляется при погашении; повторное предъявление отклоняется.
type OneShotToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
