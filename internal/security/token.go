package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultTokenBytes: длина случайной части токена (256 бит энтропии).
const DefaultTokenBytes = 32

// GenerateToken возвращает hex-строку из n криптографически случайных байт.
// n <= 0 означает DefaultTokenBytes.
func GenerateToken(n int) (string, error) {
	const op = "security.token.GenerateToken"

	if n <= 0 {
		n = DefaultTokenBytes
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(b), nil
}

// HashToken: детерминированный SHA-256 (hex) для поиска токена по хэшу.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
