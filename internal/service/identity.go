package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
	"github.com/pribylovaa/shop-backoffice/internal/token"
)

// Principal проверяет access-токен входящего запроса.
//
// Сначала из токена без проверки читается subject, по нему загружается
// пользователь, затем токен проверяется против загруженной записи.
// Любое несоответствие дает token.ErrInvalidToken.
func (s *Service) Principal(ctx context.Context, rawAccess string) (*models.Principal, error) {
	const op = "service.identity.Principal"

	claims, err := s.codec.ExtractIdentity(rawAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: unknown subject: %w", op, token.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	verified, err := s.codec.Verify(rawAccess, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if verified.UserID != user.ID {
		return nil, fmt.Errorf("%s: uid mismatch: %w", op, token.ErrInvalidToken)
	}

	return &models.Principal{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}
