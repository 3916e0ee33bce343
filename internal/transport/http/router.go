package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-auth-service/internal/metrics"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/handlers"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/middleware"
)

// Options: параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	Metrics  *metrics.Metrics // nil: без метрик запросов
	BasePath string           // например, "/api"; если пустой: роуты регистрируются на корне.

	// SecureCookie ставит флаг Secure на сессионную cookie (prod).
	SecureCookie bool
	SessionTTL   time.Duration

	// Ops: служебные обработчики (/livez, /healthz, /metrics), монтируются на корень
	// без логирования и метрик запросов.
	Ops map[string]http.Handler
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(auth handlers.Auth, opts Options) http.Handler {
	root := chi.NewRouter()

	for path, h := range opts.Ops {
		root.Handle(path, h)
	}

	h := handlers.New(auth, handlers.CookieOptions{
		Secure: opts.SecureCookie,
		TTL:    opts.SessionTTL,
	})

	root.Group(func(r chi.Router) {
		// Middleware (внешний -> внутренний).
		r.Use(
			middleware.Recover(),            // безопасно ловим паники
			middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
			middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
			middleware.Metrics(opts.Metrics),
			middleware.Credentials(), // cookie access_token или Bearer
		)
		if opts.Timeout > 0 {
			r.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
		}

		if opts.BasePath == "" {
			registerRoutes(r, h)
			return
		}
		r.Route(opts.BasePath, func(r chi.Router) { registerRoutes(r, h) })
	})

	return root
}

// registerRoutes: единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
		r.Delete("/logout", h.LogoutAll)

		r.Get("/validate", h.Validate)
		r.Get("/me", h.Me)

		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)

		r.Post("/verify-email", h.VerifyEmail)
		r.Put("/verify-email", h.ResendVerification)
		r.Post("/resend-verification", h.ResendVerification)
	})
}
