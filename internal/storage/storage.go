// storage описывает контракт хранилища учётных записей и токенов.
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/storage.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/models"
)

var (
	// ErrNotFound: запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists: нарушение уникальности (email/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
	// ErrPoolTimeout: не удалось получить соединение из пула за acquire_timeout.
	ErrPoolTimeout = errors.New("connection pool checkout timed out")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// CreateUser создаёт пользователя; заполняет ID и таймстемпы.
	// Email должен быть уже нормализован. При дубликате: ErrAlreadyExists.
	CreateUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без хэша пароля).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID (без хэша пароля).
	UserByID(ctx context.Context, id int64) (*models.User, error)
	// UserWithPasswordByEmail находит пользователя вместе с хэшем пароля.
	UserWithPasswordByEmail(ctx context.Context, email string) (*models.User, error)
	// UpdatePasswordHash заменяет хэш пароля. Нет пользователя: ErrNotFound.
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	// SetEmailVerified выставляет email_verified = true.
	SetEmailVerified(ctx context.Context, userID int64) error
}

// AccessTokenStorage выполняет операции над сессионными токенами.
type AccessTokenStorage interface {
	// SaveAccessToken сохраняет новый токен. При коллизии хэша: ErrAlreadyExists.
	SaveAccessToken(ctx context.Context, token *models.AccessToken) error
	// UserByAccessTokenHash возвращает владельца действующего (expires_at > now) токена.
	UserByAccessTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error)
	// TouchAccessToken обновляет last_used_at.
	TouchAccessToken(ctx context.Context, hash string, now time.Time) error
	// DeleteAccessToken удаляет токен; отсутствие записи ошибкой не считается.
	DeleteAccessToken(ctx context.Context, hash string) error
	// DeleteUserAccessTokens удаляет все токены пользователя, возвращает их число.
	DeleteUserAccessTokens(ctx context.Context, userID int64) (int64, error)
}

// OneShotTokenStorage выполняет операции над одноразовыми токенами
// (сброс пароля, подтверждение e-mail). Вид токена выбирает таблицу.
type OneShotTokenStorage interface {
	// SaveOneShotToken сохраняет новый токен (used = false).
	SaveOneShotToken(ctx context.Context, kind models.TokenKind, token *models.OneShotToken) error
	// ActiveOneShotToken находит неиспользованный и не просроченный токен.
	// Иначе: ErrNotFound.
	ActiveOneShotToken(ctx context.Context, kind models.TokenKind, hash string, now time.Time) (*models.OneShotToken, error)
	// MarkOneShotTokenUsed выставляет used = true; false: нет непогашенного токена с таким хэшем.
	MarkOneShotTokenUsed(ctx context.Context, kind models.TokenKind, hash string) (bool, error)
}

// Storage задаёт контракт работы с БД.
type Storage interface {
	UserStorage
	AccessTokenStorage
	OneShotTokenStorage
	// DeleteExpiredTokens удаляет просроченные сессии и просроченные
	// или погашенные одноразовые токены. Возвращает общее число удалённых строк.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	Close()
}
