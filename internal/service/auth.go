package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pribylovaa/shop-backoffice/internal/events"
	"github.com/pribylovaa/shop-backoffice/internal/metrics"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/log"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/redact"
	"github.com/pribylovaa/shop-backoffice/internal/session"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordBytes = 72

// RegisterUser регистрирует локального пользователя.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (*models.User, error) {
	const op = "service.auth.RegisterUser"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(password, s.cfg.PasswordMinLength); err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.users.UserByEmail(ctx, normEmail)
	if err == nil {
		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hash := string(hashed)

	user := &models.User{
		Email:        normEmail,
		PasswordHash: &hash,
		Provider:     models.ProviderLocal,
		Username:     localPart(normEmail),
		Role:         models.RoleUser,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultFailure)
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("user_registered",
		slog.String("op", op),
		slog.Int64("user_id", user.ID),
		slog.String("email", redact.Email(user.Email)),
	)
	s.metrics.RecordAuthAttempt(metrics.FlowRegister, metrics.ResultSuccess)
	s.publishUserCreated(ctx, user, "")

	return user, nil
}

// LoginUser выполняет вход по email+пароль.
// Любая причина отказа сводится к ErrInvalidCredentials.
func (s *Service) LoginUser(ctx context.Context, email, password string) (*models.TokenPair, error) {
	const op = "service.auth.LoginUser"

	lg := log.From(ctx)

	fail := func(reason string) (*models.TokenPair, error) {
		lg.Warn("login_failed",
			slog.String("op", op),
			slog.String("reason", reason),
			slog.String("email", redact.Email(email)),
		)
		s.metrics.RecordAuthAttempt(metrics.FlowLogin, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	normEmail, err := validateEmail(email)
	if err != nil {
		return fail("invalid_email")
	}
	if password == "" {
		return fail("empty_password")
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.burnCompare(password)
			return fail("unknown_email")
		}

		s.metrics.RecordAuthAttempt(metrics.FlowLogin, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.HasPassword() {
		s.burnCompare(password)
		return fail("no_password")
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return fail("password_mismatch")
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowLogin, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("login_succeeded", slog.String("op", op), slog.Int64("user_id", user.ID))
	s.metrics.RecordAuthAttempt(metrics.FlowLogin, metrics.ResultSuccess)

	return pair, nil
}

// RefreshToken обновляет пару токенов: старый refresh-токен отзывается,
// новый выпускается в той же транзакции.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.auth.RefreshToken"

	rec, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		s.recordRefreshFailure(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultFailure)
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	access, accessExp, err := s.codec.Issue(user.ID, user.Email)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, refreshExp, err := s.sessions.Rotate(ctx, refreshToken, user.ID)
	if err != nil {
		s.recordRefreshFailure(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.RecordTokenIssued(metrics.KindAccess)
	s.metrics.RecordTokenIssued(metrics.KindRefresh)
	s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultSuccess)

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     plain,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout отзывает один refresh-токен. Повторный вызов не ошибка.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Logout"

	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogoutAll отзывает все refresh-токены пользователя.
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int, error) {
	const op = "service.auth.LogoutAll"

	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// UserByID возвращает пользователя по ID.
func (s *Service) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "service.auth.UserByID"

	user, err := s.users.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// issueTokenPair выпускает access-токен и новый refresh-токен.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const op = "service.auth.issueTokenPair"

	access, accessExp, err := s.codec.Issue(user.ID, user.Email)
	if err != nil {
		log.From(ctx).Error("access_token_sign_failed", slog.String("op", op), log.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, refreshExp, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.RecordTokenIssued(metrics.KindAccess)
	s.metrics.RecordTokenIssued(metrics.KindRefresh)

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     plain,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) recordRefreshFailure(err error) {
	switch {
	case errors.Is(err, session.ErrTokenNotFound),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrTokenRevoked):
		s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultFailure)
	default:
		s.metrics.RecordAuthAttempt(metrics.FlowRefresh, metrics.ResultError)
	}
}

// publishUserCreated отправляет событие после записи пользователя.
// Ошибка публикации только логируется.
func (s *Service) publishUserCreated(ctx context.Context, user *models.User, avatarURL string) {
	const op = "service.auth.publishUserCreated"

	if s.publisher == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	ev := events.NewUserCreated(user, avatarURL, s.now())
	if err := s.publisher.PublishUserCreated(pctx, ev); err != nil {
		log.From(ctx).Error("user_created_publish_failed",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
			slog.String("event_id", ev.EventID),
			log.Err(err),
		)
	}
}

// dummyHash сравнивается вместо настоящего, когда пользователя нет:
// время ответа не выдает существование e-mail.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	return h
})

func (s *Service) burnCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}

// validateEmail проверяет базовый формат email и приводит его к нижнему регистру.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword: непустой, не короче minLen рун, не длиннее 72 байт.
func validatePassword(pw string, minLen int) error {
	const op = "service.auth.validatePassword"

	if pw == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}
	if utf8.RuneCountInString(pw) < minLen {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}
	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	return nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
