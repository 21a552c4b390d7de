package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pribylovaa/shop-backoffice/internal/http/handlers"
	"github.com/pribylovaa/shop-backoffice/internal/http/middleware"
	"github.com/pribylovaa/shop-backoffice/internal/metrics"
)

// Service - всё, что HTTP-слой вызывает у service.Service.
type Service interface {
	handlers.Auth
	middleware.Authenticator
}

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer // nil - /metrics не регистрируется
	Ready    func() bool         // nil - /healthz всегда 200
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Пробы и метрики - без логирования и проверки токена.
	root.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	root.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if opts.Gatherer != nil {
		root.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	h := handlers.New(svc)

	// Middleware (внешний -> внутренний).
	root.Group(func(r chi.Router) {
		r.Use(
			middleware.Recover(),            // безопасно ловим паники
			middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
			middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
			middleware.Metrics(opts.Metrics),
			middleware.Timeout(opts.Timeout), // общий дедлайн запроса
			middleware.Identity(svc),         // один раз на запрос проверяем Bearer-токен
		)
		registerRoutes(r, h)
	})

	return root
}

// registerRoutes - единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Post("/auth/register", h.RegisterUser)
	r.Post("/auth/login", h.LoginUser)
	r.Post("/auth/oauth/google", h.LoginGoogle)
	r.Post("/auth/refresh", h.RefreshToken)
	r.Post("/auth/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())
		r.Post("/auth/logout-all", h.LogoutAll)
		r.Get("/auth/me", h.Me)
	})
}
