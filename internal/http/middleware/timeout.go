package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout ограничивает обработку запроса сроком d (timeouts.service).
// Сюда входят bcrypt, запросы к хранилищу и проверка ID-токена у провайдера:
// по истечении срока они получают context.DeadlineExceeded и ответ 504.
// Более ранний дедлайн из родительского контекста сохраняется, более поздний сокращается до d.
// d <= 0 отключает ограничение.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
