// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает доменную ошибку (сентинелы service/session/token),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
//
// Причины отказа refresh-токена (не найден/истёк/отозван) схлопываются
// в один клиентский код invalid_refresh_token; различие остаётся в логах.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/shop-backoffice/internal/pkg/log"
	"github.com/pribylovaa/shop-backoffice/internal/service"
	"github.com/pribylovaa/shop-backoffice/internal/session"
	"github.com/pribylovaa/shop-backoffice/internal/token"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrBadRequest - тело запроса не разобрано (битый JSON, лишние поля).
	ErrBadRequest = stderrors.New("bad request")
	// ErrUnauthenticated - защищённый маршрут вызван без проверенной личности.
	ErrUnauthenticated = stderrors.New("unauthenticated")
)

// APIError - единый формат для фронта.
// Code - короткий стабильный код для машиночитаемой обработки на FE.
// Message - безопасное человекочитаемое описание.
// RequestID - прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse - корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	target error
	status int
	code   string
	msg    string
}

// table - порядок важен: первое совпадение по errors.Is выигрывает.
var table = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_argument", "invalid email format"},
	{service.ErrEmptyPassword, http.StatusBadRequest, "invalid_argument", "password is empty"},
	{service.ErrWeakPassword, http.StatusBadRequest, "invalid_argument", "password is too short"},
	{service.ErrPasswordTooLong, http.StatusBadRequest, "invalid_argument", "password is too long"},
	{service.ErrEmailTaken, http.StatusConflict, "already_exists", "email already taken"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{service.ErrInvalidExternalToken, http.StatusBadRequest, "invalid_external_token", "invalid external identity token"},
	{service.ErrAccountAlreadyExists, http.StatusBadRequest, "account_exists", "account already exists"},
	{service.ErrFederationDisabled, http.StatusServiceUnavailable, "unavailable", "federated login is not configured"},
	{service.ErrUserNotFound, http.StatusNotFound, "not_found", "not found"},
	{session.ErrTokenNotFound, http.StatusBadRequest, "invalid_refresh_token", "invalid refresh token"},
	{session.ErrTokenExpired, http.StatusBadRequest, "invalid_refresh_token", "invalid refresh token"},
	{session.ErrTokenRevoked, http.StatusBadRequest, "invalid_refresh_token", "invalid refresh token"},
	{token.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil - это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг.
//   - err не совпадает ни с одним сентинелом - 500/internal (без утечки деталей).
func ToHTTP(err error) (int, ErrorResponse) {
	if err != nil {
		for _, m := range table {
			if stderrors.Is(err, m.target) {
				return m.status, ErrorResponse{Error: APIError{Code: m.code, Message: m.msg}}
			}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// WriteError - хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
// Ошибки 5xx логируются целиком: request_id связывает запись лога с ответом.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	lg := log.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout:
		lg.Error("request_failed", slog.Int("status", status), log.Err(err))
	default:
		lg.Debug("request_rejected", slog.Int("status", status), slog.String("code", resp.Error.Code), log.Err(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
