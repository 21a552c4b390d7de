package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
)

// InRefreshTx выполняет fn в транзакции READ COMMITTED.
// Ошибка fn откатывает транзакцию и возвращается как есть.
func (s *Storage) InRefreshTx(ctx context.Context, fn func(tx storage.RefreshTokenTx) error) error {
	const op = "storage.postgres.InRefreshTx"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&refreshTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

type refreshTx struct {
	tx pgx.Tx
}

// RefreshTokenForUpdate блокирует строку: конкурентная ротация ждет коммита
// и затем видит revoked_at.
func (t *refreshTx) RefreshTokenForUpdate(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenForUpdate"

	return scanToken(op, t.tx.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1 FOR UPDATE`, hash))
}

func (t *refreshTx) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	return revokeRefreshToken(ctx, t.tx, hash, now)
}

func (t *refreshTx) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return saveRefreshToken(ctx, t.tx, token)
}
