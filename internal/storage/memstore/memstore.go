// memstore: потокобезопасная реализация storage.Storage в памяти.
// Используется в тестах сервиса и HTTP-слоя вместо PostgreSQL.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*models.User
	byEmail  map[string]int64
	access   map[string]*models.AccessToken
	oneShots map[models.TokenKind]map[string]*models.OneShotToken
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		users:   make(map[int64]*models.User),
		byEmail: make(map[string]int64),
		access:  make(map[string]*models.AccessToken),
		oneShots: map[models.TokenKind]map[string]*models.OneShotToken{
			models.KindPasswordReset:     {},
			models.KindEmailVerification: {},
		},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func publicCopy(u *models.User) *models.User {
	c := *u
	c.PasswordHash = ""
	return &c
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := s.byEmail[key]; ok {
		return fmt.Errorf("memstore.CreateUser: %w", storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	user.ID = s.id()
	user.EmailVerified = false
	user.CreatedAt, user.UpdatedAt = now, now

	c := *user
	s.users[user.ID] = &c
	s.byEmail[key] = user.ID

	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := s.UserWithPasswordByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

func (s *Store) UserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("memstore.UserByID: %w", storage.ErrNotFound)
	}

	return publicCopy(u), nil
}

func (s *Store) UserWithPasswordByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("memstore.UserWithPasswordByEmail: %w", storage.ErrNotFound)
	}

	c := *s.users[id]
	return &c, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("memstore.UpdatePasswordHash: %w", storage.ErrNotFound)
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *Store) SetEmailVerified(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("memstore.SetEmailVerified: %w", storage.ErrNotFound)
	}
	u.EmailVerified = true

	return nil
}

func (s *Store) SaveAccessToken(_ context.Context, token *models.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.access[token.TokenHash]; ok {
		return fmt.Errorf("memstore.SaveAccessToken: %w", storage.ErrAlreadyExists)
	}

	token.ID = s.id()
	token.LastUsedAt = token.CreatedAt
	c := *token
	s.access[token.TokenHash] = &c

	return nil
}

func (s *Store) UserByAccessTokenHash(_ context.Context, hash string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.access[hash]
	if !ok || !t.ExpiresAt.After(now) {
		return nil, fmt.Errorf("memstore.UserByAccessTokenHash: %w", storage.ErrNotFound)
	}

	u, ok := s.users[t.UserID]
	if !ok {
		return nil, fmt.Errorf("memstore.UserByAccessTokenHash: %w", storage.ErrNotFound)
	}

	return publicCopy(u), nil
}

func (s *Store) TouchAccessToken(_ context.Context, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.access[hash]; ok {
		t.LastUsedAt = now
	}

	return nil
}

func (s *Store) DeleteAccessToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.access, hash)

	return nil
}

func (s *Store) DeleteUserAccessTokens(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, t := range s.access {
		if t.UserID == userID {
			delete(s.access, h)
			n++
		}
	}

	return n, nil
}

func (s *Store) SaveOneShotToken(_ context.Context, kind models.TokenKind, token *models.OneShotToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, ok := s.oneShots[kind]
	if !ok {
		return fmt.Errorf("memstore.SaveOneShotToken: unknown token kind %d", int(kind))
	}
	if _, ok := tokens[token.TokenHash]; ok {
		return fmt.Errorf("memstore.SaveOneShotToken: %w", storage.ErrAlreadyExists)
	}

	token.ID = s.id()
	token.Used = false
	c := *token
	tokens[token.TokenHash] = &c

	return nil
}

func (s *Store) ActiveOneShotToken(_ context.Context, kind models.TokenKind, hash string, now time.Time) (*models.OneShotToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.oneShots[kind][hash]
	if !ok || t.Used || !t.ExpiresAt.After(now) {
		return nil, fmt.Errorf("memstore.ActiveOneShotToken: %w", storage.ErrNotFound)
	}

	c := *t
	return &c, nil
}

func (s *Store) MarkOneShotTokenUsed(_ context.Context, kind models.TokenKind, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.oneShots[kind][hash]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true

	return true, nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, t := range s.access {
		if !t.ExpiresAt.After(now) {
			delete(s.access, h)
			n++
		}
	}
	for _, tokens := range s.oneShots {
		for h, t := range tokens {
			if t.Used || !t.ExpiresAt.After(now) {
				delete(tokens, h)
				n++
			}
		}
	}

	return n, nil
}

func (s *Store) Close() {}

// AccessTokenCount: число сессий пользователя (включая истёкшие).
func (s *Store) AccessTokenCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.access {
		if t.UserID == userID {
			n++
		}
	}

	return n
}

// OneShotTokenCount: число одноразовых токенов вида kind (для всех пользователей).
func (s *Store) OneShotTokenCount(kind models.TokenKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.oneShots[kind])
}

var _ storage.Storage = (*Store)(nil)
