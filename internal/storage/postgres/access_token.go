package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// SaveAccessToken сохраняет новую сессию. Пустые user_agent/ip_address
// записываются как NULL.
func (s *Storage) SaveAccessToken(ctx context.Context, token *models.AccessToken) error {
	const op = "storage.postgres.SaveAccessToken"

	conn, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := `
		INSERT INTO access_tokens(user_id, token_hash, expires_at, created_at, last_used_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING id
	`

	err = conn.QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
		token.UserAgent,
		token.IPAddress,
	).Scan(&token.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	token.LastUsedAt = token.CreatedAt

	return nil
}

// UserByAccessTokenHash возвращает владельца сессии, если она не истекла.
func (s *Storage) UserByAccessTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error) {
	const op = "storage.postgres.UserByAccessTokenHash"

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := `
		SELECT u.id, u.email, u.name, u.email_verified, u.created_at, u.updated_at
		FROM access_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1 AND t.expires_at > $2
	`

	var user models.User
	err = conn.QueryRow(ctx, query, hash, now).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// TouchAccessToken обновляет время последнего использования сессии.
func (s *Storage) TouchAccessToken(ctx context.Context, hash string, now time.Time) error {
	const op = "storage.postgres.TouchAccessToken"

	conn, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := `
		UPDATE access_tokens
		SET last_used_at = $2
		WHERE token_hash = $1
	`

	if _, err := conn.Exec(ctx, query, hash, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteAccessToken удаляет сессию по хэшу. Идемпотентна.
func (s *Storage) DeleteAccessToken(ctx context.Context, hash string) error {
	const op = "storage.postgres.DeleteAccessToken"

	conn, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := `
		DELETE FROM access_tokens
		WHERE token_hash = $1
	`

	if _, err := conn.Exec(ctx, query, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteUserAccessTokens удаляет все сессии пользователя одним запросом.
func (s *Storage) DeleteUserAccessTokens(ctx context.Context, userID int64) (int64, error) {
	const op = "storage.postgres.DeleteUserAccessTokens"

	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := `
		DELETE FROM access_tokens
		WHERE user_id = $1
	`

	tag, err := conn.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpiredTokens удаляет просроченные сессии, а также просроченные
// или погашенные одноразовые токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	queries := []string{
		`DELETE FROM access_tokens WHERE expires_at <= $1`,
		`DELETE FROM password_reset_tokens WHERE expires_at <= $1 OR used = TRUE`,
		`DELETE FROM email_verification_tokens WHERE expires_at <= $1 OR used = TRUE`,
	}

	var total int64
	for _, q := range queries {
		tag, err := conn.Exec(ctx, q, now)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		total += tag.RowsAffected()
	}

	return total, nil
}
