// service содержит бизнес-логику auth-сервиса: регистрацию и вход,
// выпуск/проверку/отзыв сессионных и одноразовых токенов, подтверждение
// e-mail и сброс пароля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования при условии, что зависимости потокобезопасны;
//   - ошибки возвращаются как сентинелы ниже и маппятся транспортом на HTTP-коды;
//   - все несовпадения учётных данных схлопываются в одну ошибку, чтобы
//     ответ не выдавал, существует ли пользователь или токен.
package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/mail"
	"github.com/pribylovaa/go-auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-auth-service/internal/security"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

var (
	// ErrMissingFields: не переданы обязательные поля. HTTP 400.
	ErrMissingFields = errors.New("missing required fields")

	// ErrInvalidEmail: e-mail имеет некорректный формат. HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword: пароль не удовлетворяет политике сложности.
	// Полный список нарушений: в ValidationError.Details. HTTP 400.
	ErrWeakPassword = errors.New("password does not meet requirements")

	// ErrInvalidName: имя короче двух символов. HTTP 400.
	ErrInvalidName = errors.New("name must be at least 2 characters")

	// ErrInvalidToken: одноразовый токен неизвестен, истёк или уже погашен.
	// Причина намеренно не уточняется. HTTP 400.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrAlreadyVerified: e-mail уже подтверждён. HTTP 400.
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrEmailTaken: e-mail уже занят. HTTP 409.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials: пара e-mail/пароль неверна или пользователь не найден. HTTP 401.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnauthenticated: нет токена, либо он неизвестен, истёк или отозван. HTTP 401.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrFeatureDisabled: сценарий выключен флагом конфигурации. HTTP 403.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrRateLimited: превышен лимит попыток. HTTP 429.
	ErrRateLimited = errors.New("too many attempts")

	// ErrTokenCollision: исчерпаны попытки сохранить токен с уникальным хэшем. HTTP 500.
	ErrTokenCollision = errors.New("token collision")

	// ErrEmailDelivery: токен выпущен, но письмо не ушло.
	// Вызывающий решает, считать ли это ошибкой сценария.
	ErrEmailDelivery = errors.New("email delivery failed")
)

// ValidationError: ошибка валидации ввода с деталями.
// errors.Is(err, ErrWeakPassword) и т.п. работают через Unwrap.
type ValidationError struct {
	Err     error
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Err.Error()
	}

	return fmt.Sprintf("%s: %s", e.Err.Error(), strings.Join(e.Details, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RateLimitError: отказ ограничителя; ResetAt: когда окно сбросится.
type RateLimitError struct {
	Policy  string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s until %s", ErrRateLimited.Error(), e.Policy, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage  storage.Storage
	hasher   security.PasswordHasher
	limiter  *ratelimit.Limiter // может быть nil: лимиты не применяются
	mailer   mail.Sender
	cfg      config.AuthConfig
	features config.FeaturesConfig
	verifier IdentityVerifier

	emailFailed *prometheus.CounterVec
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEmailFailureCounter подключает счётчик неудачных отправок писем (метка "kind").
func WithEmailFailureCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.emailFailed = c }
}

// New создаёт новый экземпляр Service.
func New(
	st storage.Storage,
	hasher security.PasswordHasher,
	limiter *ratelimit.Limiter,
	mailer mail.Sender,
	cfg config.AuthConfig,
	features config.FeaturesConfig,
	opts ...Option,
) *Service {
	if mailer == nil {
		mailer = mail.LogSender{}
	}

	s := &Service{
		storage:  st,
		hasher:   hasher,
		limiter:  limiter,
		mailer:   mailer,
		cfg:      cfg,
		features: features,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	s.verifier = VerifierChain{
		accessTokenVerifier{s: s},
		signedTokenVerifier{s: s},
	}

	return s
}
