package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/mail"
	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/security"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

var meta = models.ClientMeta{IP: "10.0.0.1", UserAgent: "test-agent"}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := security.NewBcryptHasher(bcrypt.MinCost).Hash(pw)
	require.NoError(t, err)
	return h
}

func TestRegister_OK(t *testing.T) {
	t.Parallel()

	svc, st, ml := newSvc(t)
	ctx := context.Background()

	st.EXPECT().CreateUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			require.Equal(t, "ann@x.com", u.Email)
			require.Equal(t, "Ann", u.Name)
			require.True(t, security.NewBcryptHasher(bcrypt.MinCost).Verify("Aa1!aaaa", u.PasswordHash))
			u.ID = 7
			return nil
		})
	st.EXPECT().SaveOneShotToken(gomock.Any(), models.KindEmailVerification, gomock.Any()).Return(nil)
	ml.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m mail.Message) error {
			require.Equal(t, "ann@x.com", m.To)
			require.Contains(t, m.Text, "https://app.example.com/verify-email?token=")
			return nil
		})
	st.EXPECT().SaveAccessToken(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Register(ctx, RegisterInput{Email: " Ann@X.com ", Password: "Aa1!aaaa", Name: " Ann "}, meta)
	require.NoError(t, err)
	require.Equal(t, int64(7), res.User.ID)
	require.Empty(t, res.User.PasswordHash)
	require.False(t, res.User.EmailVerified)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.SignedToken)
	require.NotEmpty(t, res.VerificationToken)
	require.True(t, res.EmailSent)
}

func TestRegister_EmailFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	svc, st, ml := newSvc(t)

	st.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveOneShotToken(gomock.Any(), models.KindEmailVerification, gomock.Any()).Return(nil)
	ml.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))
	st.EXPECT().SaveAccessToken(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "Aa1!aaaa", Name: "Ann"}, meta)
	require.NoError(t, err)
	require.False(t, res.EmailSent)
	require.NotEmpty(t, res.VerificationToken)
}

func TestRegister_FeatureDisabled(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)
	svc.features = config.FeaturesConfig{}

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "Aa1!aaaa", Name: "Ann"}, meta)
	require.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestRegister_ValidationErrors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"missing", RegisterInput{Email: "a@x.com", Password: "Aa1!aaaa"}, ErrMissingFields},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "Aa1!aaaa", Name: "Ann"}, ErrInvalidEmail},
		{"weak password", RegisterInput{Email: "a@x.com", Password: "short", Name: "Ann"}, ErrWeakPassword},
		{"short name", RegisterInput{Email: "a@x.com", Password: "Aa1!aaaa", Name: " A "}, ErrInvalidName},
	}

	for _, tc := range cases {
		_, err := svc.Register(ctx, tc.in, meta)
		require.ErrorIs(t, err, tc.want, tc.name)
	}
}

func TestRegister_WeakPasswordCarriesDetails(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "aaaaaaaa", Name: "Ann"}, meta)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Details, 3)
}

func TestRegister_PasswordOverBcryptLimitRejectedBeforeStorage(t *testing.T) {
	t.Parallel()

	// Без EXPECT: любое обращение к хранилищу провалит тест.
	svc, _, _ := newSvc(t)
	long := "Aa1!" + strings.Repeat("a", 76)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: long, Name: "Ann"}, meta)
	require.ErrorIs(t, err, ErrWeakPassword)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, []string{"Password must be at most 72 bytes long"}, ve.Details)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "Aa1!aaaa", Name: "Ann"}, meta)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().UserWithPasswordByEmail(gomock.Any(), "a@x.com").
		Return(&models.User{ID: 7, Email: "a@x.com", PasswordHash: mustHashPW(t, "Aa1!aaaa")}, nil)
	st.EXPECT().SaveAccessToken(gomock.Any(), gomock.Any()).Return(nil)

	sess, err := svc.Login(context.Background(), "A@x.com", "Aa1!aaaa", meta)
	require.NoError(t, err)
	require.Equal(t, int64(7), sess.User.ID)
	require.Empty(t, sess.User.PasswordHash)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.SignedToken)
}

func TestLogin_UnknownEmailAndWrongPasswordLookTheSame(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	ctx := context.Background()

	st.EXPECT().UserWithPasswordByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)
	_, errUnknown := svc.Login(ctx, "ghost@x.com", "Aa1!aaaa", meta)

	st.EXPECT().UserWithPasswordByEmail(gomock.Any(), "a@x.com").
		Return(&models.User{ID: 7, PasswordHash: mustHashPW(t, "Aa1!aaaa")}, nil)
	_, errWrong := svc.Login(ctx, "a@x.com", "Bb2@bbbb", meta)

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
}

func TestLogin_MissingFields(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)

	_, err := svc.Login(context.Background(), "", "x", meta)
	require.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.Login(context.Background(), "a@x.com", "", meta)
	require.ErrorIs(t, err, ErrMissingFields)
}

func TestLogin_RateLimitedAfterFiveAttempts(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	ctx := context.Background()

	st.EXPECT().UserWithPasswordByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).Times(5)

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "ghost@x.com", "Aa1!aaaa", meta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := svc.Login(ctx, "ghost@x.com", "Aa1!aaaa", meta)
	require.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, "login", rl.Policy)
	require.False(t, rl.ResetAt.IsZero())

	// Другой IP считается отдельно.
	st.EXPECT().UserWithPasswordByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	_, err = svc.Login(ctx, "ghost@x.com", "Aa1!aaaa", models.ClientMeta{IP: "10.0.0.2"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout_StorageErrorSwallowed(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().DeleteAccessToken(gomock.Any(), security.HashToken("tok")).Return(errors.New("db down"))

	svc.Logout(context.Background(), "tok")
	svc.Logout(context.Background(), "")
}

func TestLogoutAll_OK(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().UserByAccessTokenHash(gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.User{ID: 7}, nil)
	st.EXPECT().TouchAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().DeleteUserAccessTokens(gomock.Any(), int64(7)).Return(int64(3), nil)

	require.NoError(t, svc.LogoutAll(context.Background(), "tok"))
}

func TestLogoutAll_NoValidTokenIsNoop(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	require.NoError(t, svc.LogoutAll(context.Background(), ""))

	st.EXPECT().UserByAccessTokenHash(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	require.NoError(t, svc.LogoutAll(context.Background(), "stale"))
}

func TestLogoutAll_RevokeFailureReported(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().UserByAccessTokenHash(gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.User{ID: 7}, nil)
	st.EXPECT().TouchAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().DeleteUserAccessTokens(gomock.Any(), int64(7)).Return(int64(0), errors.New("db down"))

	require.Error(t, svc.LogoutAll(context.Background(), "tok"))
}

func TestForgotPassword_KnownEmail_SendsLink(t *testing.T) {
	t.Parallel()

	svc, st, ml := newSvc(t)

	st.EXPECT().UserByEmail(gomock.Any(), "a@x.com").Return(&models.User{ID: 7, Email: "a@x.com", Name: "Ann"}, nil)
	st.EXPECT().SaveOneShotToken(gomock.Any(), models.KindPasswordReset, gomock.Any()).Return(nil)
	ml.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m mail.Message) error {
			require.Contains(t, m.HTML, "https://app.example.com/reset-password?token=")
			return nil
		})

	require.NoError(t, svc.ForgotPassword(context.Background(), "A@x.com", meta))
}

func TestForgotPassword_UnknownEmail_SameResult(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().UserByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)

	require.NoError(t, svc.ForgotPassword(context.Background(), "ghost@x.com", meta))
}

func TestForgotPassword_EmailFailureHidden(t *testing.T) {
	t.Parallel()

	svc, st, ml := newSvc(t)

	st.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(&models.User{ID: 7, Email: "a@x.com"}, nil)
	st.EXPECT().SaveOneShotToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	ml.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	require.NoError(t, svc.ForgotPassword(context.Background(), "a@x.com", meta))
}

func TestForgotPassword_Errors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.ForgotPassword(ctx, "", meta), ErrMissingFields)
	require.ErrorIs(t, svc.ForgotPassword(ctx, "bad", meta), ErrInvalidEmail)

	svc.features.EnablePasswordRecovery = false
	require.ErrorIs(t, svc.ForgotPassword(ctx, "a@x.com", meta), ErrFeatureDisabled)
}

func TestResetPassword_StrictOrder(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	hash := security.HashToken("reset-tok")

	gomock.InOrder(
		st.EXPECT().ActiveOneShotToken(gomock.Any(), models.KindPasswordReset, hash, testNow).
			Return(&models.OneShotToken{UserID: 7}, nil),
		st.EXPECT().UpdatePasswordHash(gomock.Any(), int64(7), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ int64, h string) error {
				require.True(t, security.NewBcryptHasher(bcrypt.MinCost).Verify("NewPass1!", h))
				return nil
			}),
		st.EXPECT().MarkOneShotTokenUsed(gomock.Any(), models.KindPasswordReset, hash).Return(true, nil),
		st.EXPECT().DeleteUserAccessTokens(gomock.Any(), int64(7)).Return(int64(2), nil),
	)

	require.NoError(t, svc.ResetPassword(context.Background(), "reset-tok", "NewPass1!", meta))
}

func TestResetPassword_ConsumeNoMatch_StillRevokes(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().ActiveOneShotToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.OneShotToken{UserID: 7}, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), int64(7), gomock.Any()).Return(nil)
	st.EXPECT().MarkOneShotTokenUsed(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
	st.EXPECT().DeleteUserAccessTokens(gomock.Any(), int64(7)).Return(int64(1), nil)

	require.NoError(t, svc.ResetPassword(context.Background(), "reset-tok", "NewPass1!", meta))
}

func TestResetPassword_ConsumeError_StillRevokes_ReturnsError(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	consumeErr := errors.New("consume failed")

	st.EXPECT().ActiveOneShotToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.OneShotToken{UserID: 7}, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), int64(7), gomock.Any()).Return(nil)
	st.EXPECT().MarkOneShotTokenUsed(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, consumeErr)
	st.EXPECT().DeleteUserAccessTokens(gomock.Any(), int64(7)).Return(int64(1), nil)

	err := svc.ResetPassword(context.Background(), "reset-tok", "NewPass1!", meta)
	require.ErrorIs(t, err, consumeErr)
}

func TestResetPassword_InvalidToken_PasswordUntouched(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().ActiveOneShotToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)

	err := svc.ResetPassword(context.Background(), "stale", "NewPass1!", meta)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetPassword_ValidationBeforeLookup(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.ResetPassword(ctx, "", "NewPass1!", meta), ErrMissingFields)
	require.ErrorIs(t, svc.ResetPassword(ctx, "tok", "weak", meta), ErrWeakPassword)

	svc.features.EnablePasswordRecovery = false
	require.ErrorIs(t, svc.ResetPassword(ctx, "tok", "NewPass1!", meta), ErrFeatureDisabled)
}

func TestResetPassword_PasswordOverBcryptLimit_TokenNotLookedUp(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)
	long := "Aa1!" + strings.Repeat("a", 76)

	err := svc.ResetPassword(context.Background(), "reset-tok", long, meta)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestVerifyEmail_OK(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	hash := security.HashToken("verify-tok")

	gomock.InOrder(
		st.EXPECT().ActiveOneShotToken(gomock.Any(), models.KindEmailVerification, hash, testNow).
			Return(&models.OneShotToken{UserID: 7}, nil),
		st.EXPECT().SetEmailVerified(gomock.Any(), int64(7)).Return(nil),
		st.EXPECT().MarkOneShotTokenUsed(gomock.Any(), models.KindEmailVerification, hash).Return(true, nil),
	)

	require.NoError(t, svc.VerifyEmail(context.Background(), "verify-tok", meta))
}

func TestVerifyEmail_InvalidToken(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	require.ErrorIs(t, svc.VerifyEmail(context.Background(), "", meta), ErrMissingFields)

	st.EXPECT().ActiveOneShotToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	require.ErrorIs(t, svc.VerifyEmail(context.Background(), "nope", meta), ErrInvalidToken)
}

func TestResendVerification(t *testing.T) {
	t.Parallel()

	svc, st, ml := newSvc(t)
	ctx := context.Background()

	_, err := svc.ResendVerification(ctx, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.ResendVerification(ctx, &models.User{ID: 7, EmailVerified: true})
	require.ErrorIs(t, err, ErrAlreadyVerified)

	user := &models.User{ID: 7, Email: "a@x.com", Name: "Ann"}
	st.EXPECT().SaveOneShotToken(gomock.Any(), models.KindEmailVerification, gomock.Any()).Return(nil).Times(3)
	ml.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	for i := 0; i < 3; i++ {
		res, err := svc.ResendVerification(ctx, user)
		require.NoError(t, err)
		require.True(t, res.EmailSent)
		require.NotEmpty(t, res.VerificationToken)
	}

	_, err = svc.ResendVerification(ctx, user)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestCleanupExpiredTokens(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().DeleteExpiredTokens(gomock.Any(), testNow).Return(int64(4), nil)

	n, err := svc.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}
