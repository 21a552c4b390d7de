package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pribylovaa/shop-backoffice/internal/metrics"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/log"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/redact"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
)

const maxUsernameRunes = 64

// AuthenticateFederated выполняет вход по ID-токену внешнего провайдера.
//
// Порядок разрешения пользователя:
//  1. запись с тем же (provider, subject) - используется как есть;
//  2. e-mail занят другой записью - ErrAccountAlreadyExists;
//  3. иначе создается федеративный пользователь без пароля
//     и публикуется событие user.created.
func (s *Service) AuthenticateFederated(ctx context.Context, idToken string) (*models.TokenPair, error) {
	const op = "service.federated.AuthenticateFederated"

	lg := log.From(ctx)

	if s.verifier == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrFederationDisabled)
	}

	ext, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		lg.Warn("external_token_rejected", slog.String("op", op), log.Err(err))
		s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidExternalToken)
	}
	if !ext.EmailVerified {
		lg.Warn("external_email_unverified",
			slog.String("op", op),
			slog.String("subject", redact.Subject(ext.Subject)),
		)
		s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidExternalToken)
	}

	email, err := validateEmail(ext.Email)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidExternalToken)
	}

	user, created, err := s.resolveFederatedUser(ctx, ext, email)
	if err != nil {
		if errors.Is(err, ErrAccountAlreadyExists) {
			s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultFailure)
		} else {
			s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultError)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if created {
		lg.Info("federated_user_provisioned",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
			slog.String("email", redact.Email(user.Email)),
		)
		s.publishUserCreated(ctx, user, ext.Picture)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.RecordAuthAttempt(metrics.FlowFederated, metrics.ResultSuccess)

	return pair, nil
}

// resolveFederatedUser возвращает пользователя и признак того, что он создан сейчас.
func (s *Service) resolveFederatedUser(ctx context.Context, ext *models.ExternalIdentity, email string) (*models.User, bool, error) {
	const op = "service.federated.resolveFederatedUser"

	lg := log.From(ctx)

	user, err := s.users.UserByProvider(ctx, models.ProviderFederated, ext.Subject)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.users.UserByEmail(ctx, email)
	if err == nil {
		lg.Warn("federated_email_collision",
			slog.String("op", op),
			slog.Int64("user_id", existing.ID),
			slog.String("existing_provider", string(existing.Provider)),
			slog.String("subject", redact.Subject(ext.Subject)),
		)
		return nil, false, ErrAccountAlreadyExists
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	subject := ext.Subject
	user = &models.User{
		Email:      email,
		Provider:   models.ProviderFederated,
		ProviderID: &subject,
		Username:   s.displayName(ext.Name, email),
		Role:       models.RoleUser,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}

		// Гонка первого входа: победитель уже создал запись с тем же subject.
		winner, rerr := s.users.UserByProvider(ctx, models.ProviderFederated, ext.Subject)
		if rerr == nil {
			return winner, false, nil
		}
		if !errors.Is(rerr, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("%s: %w", op, rerr)
		}

		return nil, false, ErrAccountAlreadyExists
	}

	return user, true, nil
}

// displayName очищает имя от разметки и обрезает его; пустое заменяется локальной частью e-mail.
func (s *Service) displayName(raw, email string) string {
	name := strings.Join(strings.Fields(s.names.Sanitize(raw)), " ")
	if name == "" {
		name = localPart(email)
	}

	if utf8.RuneCountInString(name) > maxUsernameRunes {
		name = string([]rune(name)[:maxUsernameRunes])
	}

	return name
}
