package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
)

const tokenColumns = `id, token, user_id, expires_at, revoked_at, created_at, updated_at`

// SaveRefreshToken сохраняет новый refresh-токен.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return saveRefreshToken(ctx, s.db, token)
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	return scanToken(op, s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, hash))
}

// RefreshTokensByUser возвращает все токены владельца в порядке выпуска.
func (s *Storage) RefreshTokensByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokensByUser"

	rows, err := s.db.Query(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapErr(op, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		t, err := scanToken(op, row)
		if err != nil {
			return models.RefreshToken{}, err
		}
		return *t, nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// RevokeRefreshToken проставляет revoked_at один раз; повторный вызов ничего не меняет.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	return revokeRefreshToken(ctx, s.db, hash, now)
}

// RevokeUserRefreshTokens отзывает все неотозванные токены владельца.
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	const op = "storage.postgres.RevokeUserRefreshTokens"

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, updated_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
		RETURNING token
	`

	rows, err := s.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, mapErr(op, err)
	}

	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapErr(op, err)
	}

	return hashes, nil
}

// DeleteExpiredTokens удаляет токены, истекшие раньше before.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteUserRefreshTokens удаляет все токены владельца.
func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID int64) (int64, error) {
	const op = "storage.postgres.DeleteUserRefreshTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// saveRefreshToken не прерывает транзакцию при коллизии хэша:
// ON CONFLICT DO NOTHING вместо unique violation.
func saveRefreshToken(ctx context.Context, q querier, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO refresh_tokens(token, user_id, expires_at, revoked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (token) DO NOTHING
		RETURNING id, updated_at
	`

	err := q.QueryRow(ctx, query,
		token.TokenHash,
		token.UserID,
		token.ExpiresAt,
		token.RevokedAt,
		token.CreatedAt,
	).Scan(&token.ID, &token.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return mapErr(op, err)
	}

	return nil
}

func revokeRefreshToken(ctx context.Context, q querier, hash string, now time.Time) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, updated_at = $2
		WHERE token = $1 AND revoked_at IS NULL
	`

	tag, err := q.Exec(ctx, query, hash, now)
	if err != nil {
		return false, mapErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func scanToken(op string, row pgx.Row) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID,
		&t.TokenHash,
		&t.UserID,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(op, err)
	}

	return &t, nil
}
