package handlers

import (
	"time"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/service"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

// userResponse: публичное представление пользователя, без хэша пароля.
type userResponse struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func userFromModel(u *models.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// sessionResponse: access_token дублирует cookie для клиентов без cookie,
// token: подписанный JWT.
type sessionResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	Token       string       `json:"token"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

func sessionFromService(s *service.Session) sessionResponse {
	return sessionResponse{
		User:        userFromModel(s.User),
		AccessToken: s.AccessToken,
		Token:       s.SignedToken,
		ExpiresAt:   s.ExpiresAt,
	}
}

type registerResponse struct {
	sessionResponse
	VerificationToken string `json:"verification_token"`
	EmailSent         bool   `json:"email_sent"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type validateResponse struct {
	Valid bool         `json:"valid"`
	User  userResponse `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type resendResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	VerificationToken string `json:"verification_token"`
	EmailSent         bool   `json:"email_sent"`
}
