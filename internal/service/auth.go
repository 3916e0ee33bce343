package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/mail"
	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// limitPolicy: лимит попыток для одного сценария. name задаёт
// пространство имён идентификатора, чтобы сценарии не делили счётчик.
type limitPolicy struct {
	name   string
	max    int
	window time.Duration
}

var (
	policyRegister       = limitPolicy{"register", 3, time.Hour}
	policyLogin          = limitPolicy{"login", 5, 15 * time.Minute}
	policyForgotPassword = limitPolicy{"forgot-password", 3, time.Hour}
	policyResetPassword  = limitPolicy{"reset-password", 5, time.Hour}
	policyVerifyEmail    = limitPolicy{"verify-email", 10, time.Hour}
	policyResend         = limitPolicy{"resend-verification", 3, time.Hour}
)

// dummyPassword хэшируется один раз и сравнивается при входе с неизвестным
// e-mail, чтобы время ответа не зависело от существования аккаунта.
const dummyPassword = "dummy-password-for-timing-equalization"

// Session: выданные при входе/регистрации учётные данные.
type Session struct {
	User        *models.User
	AccessToken string
	ExpiresAt   time.Time
	SignedToken string
}

// RegisterInput: данные формы регистрации.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// RegisterResult: результат регистрации.
// VerificationToken возвращается и клиенту; EmailSent=false, если письмо не ушло.
type RegisterResult struct {
	Session
	VerificationToken string
	EmailSent         bool
}

// ResendResult: результат повторной отправки письма подтверждения.
type ResendResult struct {
	VerificationToken string
	EmailSent         bool
}

// Register создаёт пользователя, выпускает токен подтверждения e-mail
// и открывает сессию.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta models.ClientMeta) (*RegisterResult, error) {
	const op = "service.auth.Register"

	if !s.features.EnableRegistration {
		return nil, fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	if strings.TrimSpace(in.Email) == "" || in.Password == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingFields)
	}

	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	name, err := validateName(in.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkLimit(ctx, policyRegister, meta.IP); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.storage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.PasswordHash = ""

	ctx, lg := log.With(ctx, slog.Int64("user_id", user.ID))

	res := &RegisterResult{EmailSent: true}

	res.VerificationToken, err = s.issueAndSend(ctx, models.KindEmailVerification, user)
	if err != nil {
		if !errors.Is(err, ErrEmailDelivery) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res.EmailSent = false
	}

	sess, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res.Session = *sess

	lg.Info("user_registered", slog.String("email", redact.Email(email)))

	return res, nil
}

// Login проверяет пару e-mail/пароль и открывает сессию.
func (s *Service) Login(ctx context.Context, email, password string, meta models.ClientMeta) (*Session, error) {
	const op = "service.auth.Login"

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingFields)
	}

	if err := s.checkLimit(ctx, policyLogin, meta.IP); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserWithPasswordByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Verify(password, s.dummy())
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		log.From(ctx).Info("login_failed",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	user.PasswordHash = ""

	sess, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

// Logout закрывает сессии переданных токенов. Всегда успешен: ошибки только логируются.
func (s *Service) Logout(ctx context.Context, tokens ...string) {
	const op = "service.auth.Logout"

	for _, token := range tokens {
		if err := s.RevokeAccessToken(ctx, token); err != nil {
			log.From(ctx).Warn("logout_revoke_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}
}

// LogoutAll закрывает все сессии владельца токена. Без действующего токена
// делать нечего, это не ошибка. Ошибка хранилища возвращается: клиент
// должен знать, что сессии, возможно, живы.
func (s *Service) LogoutAll(ctx context.Context, tokens ...string) error {
	const op = "service.auth.LogoutAll"

	user, err := s.Authenticate(ctx, tokens...)
	if err != nil {
		return nil
	}

	n, err := s.RevokeAllAccessTokens(ctx, user.ID)
	if err != nil {
		log.From(ctx).Error("logout_all_failed",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_all",
		slog.Int64("user_id", user.ID),
		slog.Int64("revoked", n),
	)

	return nil
}

// ForgotPassword отправляет ссылку сброса пароля. Ответ одинаков
// независимо от того, существует ли аккаунт.
func (s *Service) ForgotPassword(ctx context.Context, email string, meta models.ClientMeta) error {
	const op = "service.auth.ForgotPassword"

	if !s.features.EnablePasswordRecovery {
		return fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingFields)
	}

	norm, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkLimit(ctx, policyForgotPassword, meta.IP); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	lg := log.From(ctx)

	user, err := s.storage.UserByEmail(ctx, norm)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("forgot_password_unknown_email", slog.String("email", redact.Email(norm)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.issueAndSend(ctx, models.KindPasswordReset, user); err != nil && !errors.Is(err, ErrEmailDelivery) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetPassword меняет пароль по токену сброса.
//
// Порядок фиксирован: проверка токена, смена пароля, погашение токена,
// отзыв всех сессий. Отзыв выполняется даже если погашение ничего не нашло
// или завершилось ошибкой: пароль к этому моменту уже сменён.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string, meta models.ClientMeta) error {
	const op = "service.auth.ResetPassword"

	if !s.features.EnablePasswordRecovery {
		return fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	if token == "" || newPassword == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingFields)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkLimit(ctx, policyResetPassword, meta.IP); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	userID, err := s.VerifyOneShotToken(ctx, models.KindPasswordReset, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, lg := log.With(ctx, slog.Int64("user_id", userID))

	consumed, consumeErr := s.ConsumeOneShotToken(ctx, models.KindPasswordReset, token)
	if consumeErr == nil && !consumed {
		lg.Warn("reset_token_consume_no_match", slog.String("op", op))
	}

	_, revokeErr := s.RevokeAllAccessTokens(ctx, userID)

	if err := errors.Join(consumeErr, revokeErr); err != nil {
		lg.Error("reset_password_post_update_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("password_reset")

	return nil
}

// VerifyEmail подтверждает e-mail по одноразовому токену.
func (s *Service) VerifyEmail(ctx context.Context, token string, meta models.ClientMeta) error {
	const op = "service.auth.VerifyEmail"

	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingFields)
	}

	if err := s.checkLimit(ctx, policyVerifyEmail, meta.IP); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	userID, err := s.VerifyOneShotToken(ctx, models.KindEmailVerification, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SetEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Подтверждение идемпотентно, поэтому сбой погашения не отменяет результат.
	if _, err := s.ConsumeOneShotToken(ctx, models.KindEmailVerification, token); err != nil {
		log.From(ctx).Warn("verification_token_consume_failed",
			slog.String("op", op),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}

	return nil
}

// ResendVerification выпускает новый токен подтверждения для аутентифицированного пользователя.
func (s *Service) ResendVerification(ctx context.Context, user *models.User) (*ResendResult, error) {
	const op = "service.auth.ResendVerification"

	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	if user.EmailVerified {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyVerified)
	}

	if err := s.checkLimit(ctx, policyResend, strconv.FormatInt(user.ID, 10)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &ResendResult{EmailSent: true}

	var err error
	res.VerificationToken, err = s.issueAndSend(ctx, models.KindEmailVerification, user)
	if err != nil {
		if !errors.Is(err, ErrEmailDelivery) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res.EmailSent = false
	}

	return res, nil
}

// CleanupExpiredTokens удаляет просроченные сессии и отработавшие одноразовые токены.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	const op = "service.auth.CleanupExpiredTokens"

	n, err := s.storage.DeleteExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// openSession выпускает подписанный и сессионный токены для пользователя.
func (s *Service) openSession(ctx context.Context, user *models.User, meta models.ClientMeta) (*Session, error) {
	signed, err := s.IssueSignedToken(ctx, user)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := s.IssueAccessToken(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	return &Session{
		User:        user,
		AccessToken: access,
		ExpiresAt:   expiresAt,
		SignedToken: signed,
	}, nil
}

// issueAndSend выпускает одноразовый токен и отправляет письмо со ссылкой.
// Если не ушло только письмо, токен возвращается вместе с ошибкой ErrEmailDelivery:
// он уже сохранён и действителен.
func (s *Service) issueAndSend(ctx context.Context, kind models.TokenKind, user *models.User) (string, error) {
	const op = "service.auth.issueAndSend"

	plain, err := s.IssueOneShotToken(ctx, kind, user.ID)
	if err != nil {
		return "", err
	}

	var msg mail.Message
	switch kind {
	case models.KindPasswordReset:
		msg = mail.PasswordResetMessage(user.Email, user.Name, s.link("/reset-password", plain))
	default:
		msg = mail.VerificationMessage(user.Email, user.Name, s.link("/verify-email", plain))
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		if s.emailFailed != nil {
			s.emailFailed.WithLabelValues(kind.String()).Inc()
		}

		log.From(ctx).Error("email_send_failed",
			slog.String("op", op),
			slog.String("kind", kind.String()),
			slog.String("to", redact.Email(user.Email)),
			slog.String("err", err.Error()),
		)
		return plain, fmt.Errorf("%s: %w: %w", op, ErrEmailDelivery, err)
	}

	return plain, nil
}

// link строит ссылку для письма: base + path + ?token=.
func (s *Service) link(path, token string) string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// checkLimit применяет политику p к subject (IP или ID пользователя).
func (s *Service) checkLimit(ctx context.Context, p limitPolicy, subject string) error {
	if s.limiter == nil {
		return nil
	}

	if subject == "" {
		subject = "unknown"
	}

	// Ошибка хранилища уже залогирована ограничителем; попытка в этом случае разрешена.
	res, _ := s.limiter.Check(ctx, p.name+":"+subject, p.max, p.window)
	if !res.Allowed {
		log.From(ctx).Warn("rate_limited",
			slog.String("policy", p.name),
			slog.Time("reset_at", res.ResetAt),
		)
		return &RateLimitError{Policy: p.name, ResetAt: res.ResetAt}
	}

	return nil
}

// dummy возвращает хэш-заглушку для выравнивания времени входа.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err == nil {
			s.dummyHash = h
		}
	})

	return s.dummyHash
}
