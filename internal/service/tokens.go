package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-service/internal/security"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// maxIssueAttempts: сколько раз пробуем сохранить токен при коллизии хэша.
const maxIssueAttempts = 5

// IssueAccessToken выпускает сессионный токен для userID и возвращает его
// в открытом виде. В БД сохраняется только хэш.
func (s *Service) IssueAccessToken(ctx context.Context, userID int64, meta models.ClientMeta) (string, time.Time, error) {
	const op = "service.tokens.IssueAccessToken"

	lg := log.From(ctx)

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		plain, err := security.GenerateToken(security.DefaultTokenBytes)
		if err != nil {
			lg.Error("access_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		now := s.now()
		token := &models.AccessToken{
			UserID:    userID,
			TokenHash: security.HashToken(plain),
			ExpiresAt: now.Add(s.cfg.SessionTTL),
			CreatedAt: now,
			UserAgent: meta.UserAgent,
			IPAddress: meta.IP,
		}

		if err := s.storage.SaveAccessToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия: пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_access_token_failed",
				slog.String("op", op),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		return plain, token.ExpiresAt, nil
	}

	lg.Error("access_collision_exceeded", slog.String("op", op))

	return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrTokenCollision)
}

// VerifyAccessToken возвращает владельца действующей сессии.
// Неизвестный, истёкший и отозванный токен неразличимы: ErrUnauthenticated.
// Неудачное обновление last_used_at только логируется.
func (s *Service) VerifyAccessToken(ctx context.Context, plain string) (*models.User, error) {
	const op = "service.tokens.VerifyAccessToken"

	if plain == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	lg := log.From(ctx)
	hash := security.HashToken(plain)
	now := s.now()

	user, err := s.storage.UserByAccessTokenHash(ctx, hash, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
		}

		lg.Error("access_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.TouchAccessToken(ctx, hash, now); err != nil {
		lg.Warn("access_touch_failed",
			slog.String("op", op),
			slog.String("token_hash", redact.Hash(hash)),
			slog.String("err", err.Error()),
		)
	}

	return user, nil
}

// RevokeAccessToken удаляет одну сессию. Повторный вызов и пустой токен не ошибка.
func (s *Service) RevokeAccessToken(ctx context.Context, plain string) error {
	const op = "service.tokens.RevokeAccessToken"

	if plain == "" {
		return nil
	}

	if err := s.storage.DeleteAccessToken(ctx, security.HashToken(plain)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllAccessTokens удаляет все сессии пользователя.
func (s *Service) RevokeAllAccessTokens(ctx context.Context, userID int64) (int64, error) {
	const op = "service.tokens.RevokeAllAccessTokens"

	n, err := s.storage.DeleteUserAccessTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// IssueOneShotToken выпускает одноразовый токен вида kind со сроком kind.TTL().
func (s *Service) IssueOneShotToken(ctx context.Context, kind models.TokenKind, userID int64) (string, error) {
	const op = "service.tokens.IssueOneShotToken"

	lg := log.From(ctx)

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		plain, err := security.GenerateToken(security.DefaultTokenBytes)
		if err != nil {
			lg.Error("one_shot_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		now := s.now()
		token := &models.OneShotToken{
			UserID:    userID,
			TokenHash: security.HashToken(plain),
			ExpiresAt: now.Add(kind.TTL()),
			CreatedAt: now,
		}

		if err := s.storage.SaveOneShotToken(ctx, kind, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}

			lg.Error("save_one_shot_token_failed",
				slog.String("op", op),
				slog.String("kind", kind.String()),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	lg.Error("one_shot_collision_exceeded",
		slog.String("op", op),
		slog.String("kind", kind.String()),
	)

	return "", fmt.Errorf("%s: %w", op, ErrTokenCollision)
}

// VerifyOneShotToken возвращает владельца неиспользованного и не истёкшего токена.
// Токен при этом не гасится: это делает ConsumeOneShotToken после того,
// как связанное изменение (новый пароль, подтверждение e-mail) применено.
func (s *Service) VerifyOneShotToken(ctx context.Context, kind models.TokenKind, plain string) (int64, error) {
	const op = "service.tokens.VerifyOneShotToken"

	if plain == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	token, err := s.storage.ActiveOneShotToken(ctx, kind, security.HashToken(plain), s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		log.From(ctx).Error("one_shot_lookup_failed",
			slog.String("op", op),
			slog.String("kind", kind.String()),
			slog.String("err", err.Error()),
		)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return token.UserID, nil
}

// ConsumeOneShotToken гасит токен. false: непогашенного токена с таким хэшем нет (это не ошибка).
func (s *Service) ConsumeOneShotToken(ctx context.Context, kind models.TokenKind, plain string) (bool, error) {
	const op = "service.tokens.ConsumeOneShotToken"

	ok, err := s.storage.MarkOneShotTokenUsed(ctx, kind, security.HashToken(plain))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

type signedClaims struct {
	UserID int64  `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// IssueSignedToken выпускает подписанный (HS256) токен сессии без записи в БД.
func (s *Service) IssueSignedToken(ctx context.Context, user *models.User) (string, error) {
	const op = "service.tokens.IssueSignedToken"

	now := s.now()
	claims := signedClaims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SignedTokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		log.From(ctx).Error("signed_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// parseSignedToken проверяет подпись, срок, издателя и аудиторию; возвращает uid.
func (s *Service) parseSignedToken(tokenStr string) (int64, error) {
	const op = "service.tokens.parseSignedToken"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if len(s.cfg.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &signedClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		},
		opts...,
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims, ok := token.Claims.(*signedClaims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	return claims.UserID, nil
}
