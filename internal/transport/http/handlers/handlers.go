// handlers: REST-обработчики auth-сервиса поверх service.Service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/service"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/apierrors"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// Auth: сценарии, которые обслуживает HTTP-слой. Реализуется *service.Service.
type Auth interface {
	Register(ctx context.Context, in service.RegisterInput, meta models.ClientMeta) (*service.RegisterResult, error)
	Login(ctx context.Context, email, password string, meta models.ClientMeta) (*service.Session, error)
	Logout(ctx context.Context, tokens ...string)
	LogoutAll(ctx context.Context, tokens ...string) error
	Authenticate(ctx context.Context, tokens ...string) (*models.User, error)
	ForgotPassword(ctx context.Context, email string, meta models.ClientMeta) error
	ResetPassword(ctx context.Context, token, newPassword string, meta models.ClientMeta) error
	VerifyEmail(ctx context.Context, token string, meta models.ClientMeta) error
	ResendVerification(ctx context.Context, user *models.User) (*service.ResendResult, error)
}

// CookieOptions: параметры сессионной cookie.
type CookieOptions struct {
	Secure bool
	TTL    time.Duration
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	auth   Auth
	cookie CookieOptions
}

func New(auth Auth, cookie CookieOptions) *Handlers {
	return &Handlers{auth: auth, cookie: cookie}
}

// writeJSON: единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict: строгий JSON-декодер: запрещаем неизвестные поля и мусор после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("%w: %w", apierrors.ErrBadRequest, err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apierrors.ErrBadRequest
	}

	return nil
}
