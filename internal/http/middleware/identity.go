package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/shop-backoffice/internal/http/errors"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/log"
	"github.com/pribylovaa/shop-backoffice/internal/token"
)

// Authenticator разрешает access-токен в проверенную личность (service.Service).
type Authenticator interface {
	Principal(ctx context.Context, rawAccess string) (*models.Principal, error)
}

type (
	principalKey struct{}
	userIDKey    struct{}
)

// Identity проверяет Bearer-токен один раз на запрос.
//
// Поведение:
//   - заголовка нет или он не Bearer - запрос идёт дальше анонимным;
//   - токен не прошёл проверку - запрос идёт дальше анонимным, причина пишется в лог;
//   - токен валиден - в контекст кладутся Principal и отдельно числовой ID
//     пользователя (UserIDFrom).
//
// Отказ для защищённых маршрутов - дело RequireAuth.
func Identity(auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			p, err := auth.Principal(r.Context(), raw)
			if err != nil {
				lvl := slog.LevelDebug
				if !errors.Is(err, token.ErrInvalidToken) {
					// хранилище недоступно и т.п.: запрос всё равно идёт анонимным
					lvl = slog.LevelWarn
				}
				log.From(r.Context()).LogAttrs(r.Context(), lvl, "identity_rejected", log.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = context.WithValue(ctx, userIDKey{}, p.UserID)
			ctx = log.With(ctx, slog.Int64("user_id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth отвечает 401, если Identity не положил проверенную личность.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFrom(r.Context()); !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFrom возвращает проверенную личность текущего запроса.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok && p != nil
}

// UserIDFrom возвращает числовой ID вызывающего без повторного разбора токена.
func UserIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")

	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}

	raw := strings.TrimSpace(auth[len(prefix):])
	return raw, raw != ""
}
