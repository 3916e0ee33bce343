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

// SaveOneShotToken сохраняет одноразовый токен вида kind.
func (s *Storage) SaveOneShotToken(ctx context.Context, kind models.TokenKind, token *models.OneShotToken) error {
	const op = "storage.postgres.SaveOneShotToken"

	table, err := oneShotTable(kind)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := fmt.Sprintf(`
		INSERT INTO %s(user_id, token_hash, expires_at, used, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id
	`, table)

	err = conn.QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	token.Used = false

	return nil
}

// ActiveOneShotToken находит токен, который ещё не погашен и не истёк.
func (s *Storage) ActiveOneShotToken(ctx context.Context, kind models.TokenKind, hash string, now time.Time) (*models.OneShotToken, error) {
	const op = "storage.postgres.ActiveOneShotToken"

	table, err := oneShotTable(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := fmt.Sprintf(`
		SELECT id, user_id, token_hash, expires_at, used, created_at
		FROM %s
		WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
	`, table)

	var token models.OneShotToken
	err = conn.QueryRow(ctx, query, hash, now).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// MarkOneShotTokenUsed гасит токен по хэшу.
// Возвращает:
//
//	(true, nil) : токен был активен и погашен сейчас;
//	(false, nil): совпадений нет или токен уже погашен.
func (s *Storage) MarkOneShotTokenUsed(ctx context.Context, kind models.TokenKind, hash string) (bool, error) {
	const op = "storage.postgres.MarkOneShotTokenUsed"

	table, err := oneShotTable(kind)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Release()

	query := fmt.Sprintf(`
		UPDATE %s
		SET used = TRUE
		WHERE token_hash = $1 AND used = FALSE
	`, table)

	tag, err := conn.Exec(ctx, query, hash)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() > 0, nil
}
