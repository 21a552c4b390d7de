// service содержит бизнес-логику идентификации:
// регистрацию и вход по паролю, вход через внешнего провайдера,
// обновление сессии и проверку access-токена входящего запроса.
//
// Основные аспекты:
//   - Service не хранит состояние запроса; экземпляр безопасен для
//     конкурентного использования, если безопасны переданные зависимости.
//   - Ошибки возвращаются как сентинелы ниже и маппятся транспортом
//     на HTTP-статусы (internal/http/errors).
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pribylovaa/shop-backoffice/internal/config"
	"github.com/pribylovaa/shop-backoffice/internal/events"
	"github.com/pribylovaa/shop-backoffice/internal/metrics"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
	"github.com/pribylovaa/shop-backoffice/internal/token"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials - пара email/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken - e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail - e-mail имеет некорректный формат.
	// Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrEmptyPassword - пароль пустой.
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrWeakPassword - пароль короче минимальной длины.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too short")

	// ErrPasswordTooLong - пароль длиннее 72 байт (предел bcrypt).
	// Транспорт: HTTP 400.
	ErrPasswordTooLong = errors.New("password is too long")

	// ErrInvalidExternalToken - ID-токен провайдера не прошел проверку
	// или e-mail в нем не подтвержден. Транспорт: HTTP 400.
	ErrInvalidExternalToken = errors.New("invalid external identity token")

	// ErrAccountAlreadyExists - e-mail уже принадлежит другой учетной записи.
	// Сообщение не раскрывает способ входа этой записи. Транспорт: HTTP 400.
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrFederationDisabled - вход через провайдера не сконфигурирован.
	// Транспорт: HTTP 503.
	ErrFederationDisabled = errors.New("federated login is not configured")

	// ErrUserNotFound - пользователь с указанным ID не существует.
	// Транспорт: HTTP 404.
	ErrUserNotFound = errors.New("user not found")
)

// IdentityVerifier проверяет ID-токен внешнего провайдера.
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (*models.ExternalIdentity, error)
}

// Sessions - жизненный цикл refresh-токенов (internal/session).
type Sessions interface {
	Issue(ctx context.Context, userID int64) (string, time.Time, error)
	Validate(ctx context.Context, plain string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, plain string) error
	RevokeAll(ctx context.Context, userID int64) (int, error)
	Rotate(ctx context.Context, oldPlain string, userID int64) (string, time.Time, error)
}

const publishTimeout = 2 * time.Second

// Service описывает бизнес-логику идентификации.
type Service struct {
	users    storage.UserStorage
	sessions Sessions
	codec    *token.Codec
	cfg      config.AuthConfig

	verifier  IdentityVerifier // nil - федерация отключена
	publisher events.Publisher
	metrics   metrics.Recorder

	names      *bluemonday.Policy
	bcryptCost int
	now        func() time.Time
}

// New создаёт новый экземпляр Service.
func New(users storage.UserStorage, sessions Sessions, codec *token.Codec, cfg config.AuthConfig) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		codec:      codec,
		cfg:        cfg,
		publisher:  events.NewLogPublisher(slog.Default()),
		metrics:    metrics.Nop{},
		names:      bluemonday.StrictPolicy(),
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetIdentityVerifier включает вход через внешнего провайдера.
func (s *Service) SetIdentityVerifier(v IdentityVerifier) {
	s.verifier = v
}

// SetPublisher задает получателя событий о новых пользователях.
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// SetMetrics задает сборщик метрик.
func (s *Service) SetMetrics(m metrics.Recorder) {
	s.metrics = m
}
