package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// IdentityVerifier: одна стратегия распознавания входящего токена.
// false означает "не мой токен или недействителен"; ошибки стратегия
// логирует сама и наружу не отдаёт.
type IdentityVerifier interface {
	TryVerify(ctx context.Context, token string) (*models.User, bool)
}

// VerifierChain опрашивает стратегии по порядку и возвращает первое совпадение.
type VerifierChain []IdentityVerifier

func (c VerifierChain) TryVerify(ctx context.Context, token string) (*models.User, bool) {
	for _, v := range c {
		if u, ok := v.TryVerify(ctx, token); ok {
			return u, true
		}
	}

	return nil, false
}

// accessTokenVerifier: непрозрачный сессионный токен из БД.
type accessTokenVerifier struct{ s *Service }

func (v accessTokenVerifier) TryVerify(ctx context.Context, token string) (*models.User, bool) {
	u, err := v.s.VerifyAccessToken(ctx, token)
	if err != nil {
		return nil, false
	}

	return u, true
}

// signedTokenVerifier: подписанный JWT; uid из claims разрешается через хранилище.
type signedTokenVerifier struct{ s *Service }

func (v signedTokenVerifier) TryVerify(ctx context.Context, token string) (*models.User, bool) {
	const op = "service.identity.signedTokenVerifier"

	uid, err := v.s.parseSignedToken(token)
	if err != nil {
		return nil, false
	}

	u, err := v.s.storage.UserByID(ctx, uid)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Warn("signed_token_user_lookup_failed",
				slog.String("op", op),
				slog.Int64("user_id", uid),
				slog.String("err", err.Error()),
			)
		}
		return nil, false
	}

	return u, true
}

// Authenticate разрешает токены неизвестного вида (сессионные или подписанные)
// в пользователя. Токены пробуются по порядку, побеждает первый действующий:
// устаревшая cookie не перекрывает валидный Bearer. Ничего не подошло: ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, tokens ...string) (*models.User, error) {
	const op = "service.identity.Authenticate"

	for _, token := range tokens {
		if token == "" {
			continue
		}
		if u, ok := s.verifier.TryVerify(ctx, token); ok {
			return u, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
}
