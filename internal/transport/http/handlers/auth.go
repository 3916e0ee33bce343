package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-auth-service/internal/service"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/apierrors"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/middleware"
)

// forgotPasswordMessage одинаков для существующих и несуществующих аккаунтов.
const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
	}, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.AccessToken)
	writeJSON(w, http.StatusCreated, registerResponse{
		sessionResponse:   sessionFromService(&res.Session),
		VerificationToken: res.VerificationToken,
		EmailSent:         res.EmailSent,
	})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	sess, err := h.auth.Login(r.Context(), in.Email, in.Password, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setSessionCookie(w, sess.AccessToken)
	writeJSON(w, http.StatusOK, sessionFromService(sess))
}

// Logout всегда отвечает 200 и снимает cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), middleware.TokensFrom(r.Context())...)

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

// LogoutAll снимает cookie в любом случае; 500 только если отзыв сессий не удался.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	err := h.auth.LogoutAll(r.Context(), middleware.TokensFrom(r.Context())...)

	h.clearSessionCookie(w)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out from all devices"})
}

func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), middleware.TokensFrom(r.Context())...)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true, User: userFromModel(user)})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), middleware.TokensFrom(r.Context())...)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: userFromModel(user)})
}

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in forgotPasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), in.Email, clientMeta(r)); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: forgotPasswordMessage})
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), in.Token, in.NewPassword, clientMeta(r)); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password has been reset successfully"})
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in verifyEmailRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.auth.VerifyEmail(r.Context(), in.Token, clientMeta(r)); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Email verified successfully"})
}

func (h *Handlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), middleware.TokensFrom(r.Context())...)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.auth.ResendVerification(r.Context(), user)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	msg := "Verification email sent"
	if !res.EmailSent {
		msg = "Verification token issued, but the email could not be sent"
	}

	writeJSON(w, http.StatusOK, resendResponse{
		Success:           true,
		Message:           msg,
		VerificationToken: res.VerificationToken,
		EmailSent:         res.EmailSent,
	})
}
