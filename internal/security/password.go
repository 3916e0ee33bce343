// security содержит криптографические примитивы сервиса:
// хэширование паролей (bcrypt) и генерацию/хэширование непрозрачных токенов.
package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher: одностороннее хэширование и проверка паролей.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// BcryptHasher реализует PasswordHasher на bcrypt.
// Соль генерируется на каждый вызов Hash, сравнение в Verify выполняет
// сама библиотека за постоянное время.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher создаёт хэшер; cost вне допустимого диапазона заменяется на bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &BcryptHasher{Cost: cost}
}

// Hash хэширует пароль.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	const op = "security.password.Hash"

	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// Verify сравнивает пароль с хэшем. Некорректный хэш даёт false.
func (h *BcryptHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ErrPasswordTooLong: bcrypt не принимает пароли длиннее 72 байт.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
