// apierrors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимает ошибку сервисного слоя, на выход даёт:
//   - корректный HTTP-статус;
//   - стабильный машиночитаемый code и безопасное message без утечки деталей;
//   - для слабого пароля: полный список нарушенных правил (details);
//   - для rate limit: время сброса окна (reset_time) и заголовок Retry-After.
//
// Источник истинности по маппингу: сентинелы пакета service.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/security"
	"github.com/pribylovaa/go-auth-service/internal/service"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrBadRequest: тело запроса не разобрано (битый JSON, лишние поля).
var ErrBadRequest = errors.New("invalid request body")

// APIError: единый формат для фронта.
type APIError struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
	Details   []string   `json:"details,omitempty"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}

// ErrorResponse: корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// mapping: строка таблицы сентинел -> HTTP.
type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// table проверяется сверху вниз, первое совпадение по errors.Is побеждает.
var table = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "invalid_argument", "invalid request body"},
	{service.ErrMissingFields, http.StatusBadRequest, "missing_fields", "missing required fields"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "invalid email format"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password does not meet requirements"},
	{security.ErrPasswordTooLong, http.StatusBadRequest, "weak_password", "password does not meet requirements"},
	{service.ErrInvalidName, http.StatusBadRequest, "invalid_name", "name must be at least 2 characters"},
	{service.ErrInvalidToken, http.StatusBadRequest, "invalid_token", "invalid or expired token"},
	{service.ErrAlreadyVerified, http.StatusBadRequest, "already_verified", "email already verified"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken", "email already registered"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{service.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "authentication required"},
	{service.ErrFeatureDisabled, http.StatusForbidden, "feature_disabled", "feature disabled"},
	{service.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later"},
	{storage.ErrPoolTimeout, http.StatusServiceUnavailable, "unavailable", "service unavailable"},
	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует ошибку сервисного слоя в HTTP-статус и ответ для фронта.
//
// Поведение:
//   - err == nil: программная ошибка вызова: 500/internal, чтобы не послать
//     "200 OK" с телом ошибки;
//   - известный сентинел: статус из таблицы;
//   - всё остальное: 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	internal := ErrorResponse{Error: APIError{Code: "internal", Message: "internal error"}}
	if err == nil {
		return http.StatusInternalServerError, internal
	}

	for _, m := range table {
		if !errors.Is(err, m.target) {
			continue
		}

		resp := ErrorResponse{Error: APIError{Code: m.code, Message: m.message}}

		var verr *service.ValidationError
		if errors.As(err, &verr) {
			resp.Error.Details = verr.Details
		}

		var rl *service.RateLimitError
		if errors.As(err, &rl) && !rl.ResetAt.IsZero() {
			reset := rl.ResetAt.UTC()
			resp.Error.ResetTime = &reset
		}

		return m.status, resp
	}

	return http.StatusInternalServerError, internal
}

// WriteError: хелпер для HTTP-хендлеров.
// Пишет статус/тело, добавляет request_id из заголовка, для 429 ставит Retry-After.
// 5xx логируются с деталями: клиенту они не отдаются.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	if status >= http.StatusInternalServerError && err != nil {
		log.From(r.Context()).Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("err", err.Error()),
		)
	}

	if resp.Error.ResetTime != nil {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter(*resp.Error.ResetTime, time.Now())))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// retryAfter: целое число секунд до reset, не меньше 1.
func retryAfter(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}

	return secs
}
