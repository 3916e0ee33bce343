package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// Интеграционные тесты пакета postgres:
// - поднимают PostgreSQL через testcontainers-go (postgres:16-alpine);
// - применяют встроенные goose-миграции через Storage.Migrate;
// - проверяют пользователей, сессии и одноразовые токены, включая фильтр по сроку.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres поднимает временный PostgreSQL и возвращает мигрированное хранилище.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(ctx, config.DBConfig{DatabaseURL: dsn, MaxConns: 4, AcquireTimeout: time.Second})
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(ctx))

	return st
}

func createUser(t *testing.T, st *Storage, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: "Ann", PasswordHash: "hash"}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func TestIntegration_CreateUser_And_Lookup_OK(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := createUser(t, st, "ann@example.com")
	require.NotZero(t, u.ID)
	require.False(t, u.EmailVerified)
	require.False(t, u.CreatedAt.IsZero())

	byEmail, err := st.UserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	require.Empty(t, byEmail.PasswordHash)

	byID, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Ann", byID.Name)
	require.Empty(t, byID.PasswordHash)

	withHash, err := st.UserWithPasswordByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, "hash", withHash.PasswordHash)
}

func TestIntegration_CreateUser_DuplicateEmail_CaseInsensitive(t *testing.T) {
	st := startPostgres(t)

	createUser(t, st, "dup@example.com")

	err := st.CreateUser(context.Background(), &models.User{Email: "DUP@example.com", Name: "Bob", PasswordHash: "h"})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_User_NotFound(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UserByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UserByID(ctx, 424242)
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = st.UpdatePasswordHash(ctx, 424242, "x")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_UpdatePassword_And_SetEmailVerified(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := createUser(t, st, "upd@example.com")

	require.NoError(t, st.UpdatePasswordHash(ctx, u.ID, "new-hash"))
	require.NoError(t, st.SetEmailVerified(ctx, u.ID))

	got, err := st.UserWithPasswordByEmail(ctx, "upd@example.com")
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.True(t, got.EmailVerified)
}

func TestIntegration_AccessToken_Lifecycle(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := createUser(t, st, "session@example.com")

	live := &models.AccessToken{UserID: u.ID, TokenHash: "live", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UserAgent: "ua"}
	expired := &models.AccessToken{UserID: u.ID, TokenHash: "expired", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, st.SaveAccessToken(ctx, live))
	require.NoError(t, st.SaveAccessToken(ctx, expired))
	require.NotZero(t, live.ID)

	err := st.SaveAccessToken(ctx, &models.AccessToken{UserID: u.ID, TokenHash: "live", ExpiresAt: now, CreatedAt: now})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	got, err := st.UserByAccessTokenHash(ctx, "live", now)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = st.UserByAccessTokenHash(ctx, "expired", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.TouchAccessToken(ctx, "live", now.Add(time.Minute)))

	require.NoError(t, st.DeleteAccessToken(ctx, "live"))
	require.NoError(t, st.DeleteAccessToken(ctx, "live"))
	_, err = st.UserByAccessTokenHash(ctx, "live", now)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_DeleteUserAccessTokens(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := createUser(t, st, "many@example.com")
	other := createUser(t, st, "other@example.com")

	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveAccessToken(ctx, &models.AccessToken{UserID: u.ID, TokenHash: h, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	}
	require.NoError(t, st.SaveAccessToken(ctx, &models.AccessToken{UserID: other.ID, TokenHash: "o", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	n, err := st.DeleteUserAccessTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	_, err = st.UserByAccessTokenHash(ctx, "o", now)
	require.NoError(t, err)
}

func TestIntegration_OneShotToken_Lifecycle(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := createUser(t, st, "reset@example.com")

	for _, kind := range []models.TokenKind{models.KindPasswordReset, models.KindEmailVerification} {
		tok := &models.OneShotToken{UserID: u.ID, TokenHash: "h-" + kind.String(), ExpiresAt: now.Add(kind.TTL()), CreatedAt: now}
		require.NoError(t, st.SaveOneShotToken(ctx, kind, tok))

		got, err := st.ActiveOneShotToken(ctx, kind, tok.TokenHash, now)
		require.NoError(t, err)
		require.Equal(t, u.ID, got.UserID)
		require.False(t, got.Used)

		_, err = st.ActiveOneShotToken(ctx, kind, tok.TokenHash, now.Add(kind.TTL()+time.Second))
		require.ErrorIs(t, err, storage.ErrNotFound)

		ok, err := st.MarkOneShotTokenUsed(ctx, kind, tok.TokenHash)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = st.ActiveOneShotToken(ctx, kind, tok.TokenHash, now)
		require.ErrorIs(t, err, storage.ErrNotFound)

		ok, err = st.MarkOneShotTokenUsed(ctx, kind, tok.TokenHash)
		require.NoError(t, err)
		require.False(t, ok, "second consume must report no active token")

		ok, err = st.MarkOneShotTokenUsed(ctx, kind, "missing")
		require.NoError(t, err)
		require.False(t, ok)
	}

	// Таблицы разных видов не пересекаются.
	_, err := st.ActiveOneShotToken(ctx, models.KindEmailVerification, "h-"+models.KindPasswordReset.String(), now)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_DeleteExpiredTokens(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := createUser(t, st, "janitor@example.com")

	require.NoError(t, st.SaveAccessToken(ctx, &models.AccessToken{UserID: u.ID, TokenHash: "old", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, st.SaveAccessToken(ctx, &models.AccessToken{UserID: u.ID, TokenHash: "fresh", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, st.SaveOneShotToken(ctx, models.KindPasswordReset, &models.OneShotToken{UserID: u.ID, TokenHash: "used", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	_, err := st.MarkOneShotTokenUsed(ctx, models.KindPasswordReset, "used")
	require.NoError(t, err)
	require.NoError(t, st.SaveOneShotToken(ctx, models.KindEmailVerification, &models.OneShotToken{UserID: u.ID, TokenHash: "stale", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-25 * time.Hour)}))

	n, err := st.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	_, err = st.UserByAccessTokenHash(ctx, "fresh", now)
	require.NoError(t, err)
}

func TestIntegration_ContextCanceled(t *testing.T) {
	st := startPostgres(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.UserByID(ctx, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOneShotTable_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := oneShotTable(models.TokenKind(99))
	require.Error(t, err)

	table, err := oneShotTable(models.KindPasswordReset)
	require.NoError(t, err)
	require.Equal(t, "password_reset_tokens", table)
}
