// ratelimit реализует ограничитель попыток с фиксированным окном.
//
// Состояние счётчиков вынесено в Store: MemoryStore для одного инстанса,
// RedisStore для нескольких инстансов с общим счётчиком.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
)

// Store: атомарный счётчик попыток в фиксированном окне.
//
// Incr увеличивает счётчик ключа и возвращает новое значение и момент сброса окна.
// Если окна нет или оно истекло (now >= resetAt), открывается новое:
// count = 1, resetAt = now + window.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error)
}

// Result: результат проверки лимита.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter проверяет лимиты поверх Store.
type Limiter struct {
	store  Store
	denied *prometheus.CounterVec
	now    func() time.Time
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithDeniedCounter подключает счётчик отказов с меткой "policy"
// (часть идентификатора до первого ':').
func WithDeniedCounter(c *prometheus.CounterVec) Option {
	return func(l *Limiter) { l.denied = c }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New создаёт Limiter над store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check регистрирует попытку для id и сообщает, разрешена ли она.
//
// Первая попытка в окне разрешена и оставляет max-1; попытка с номером
// max+1 и все последующие до ResetAt отклоняются.
// Ошибка хранилища не блокирует запрос: попытка разрешается, ошибка логируется
// и возвращается вызывающему для информации.
func (l *Limiter) Check(ctx context.Context, id string, max int, window time.Duration) (Result, error) {
	const op = "ratelimit.Check"

	now := l.now()

	count, resetAt, err := l.store.Incr(ctx, id, window, now)
	if err != nil {
		log.From(ctx).Warn("rate_limit_store_failed",
			slog.String("op", op),
			slog.String("policy", policy(id)),
			slog.String("err", err.Error()),
		)

		return Result{Allowed: true, Remaining: max - 1, ResetAt: now.Add(window)}, err
	}

	if count > int64(max) {
		if l.denied != nil {
			l.denied.WithLabelValues(policy(id)).Inc()
		}

		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Result{Allowed: true, Remaining: max - int(count), ResetAt: resetAt}, nil
}

// policy: пространство имён идентификатора ("login:1.2.3.4" -> "login").
func policy(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i]
	}

	return id
}
