package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/shop-backoffice/internal/models"
)

const userColumns = `id, email, password_hash, provider, provider_id, username, role, created_at, updated_at`

// SaveUser создает пользователя; ID и метки времени выставляет БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(email, password_hash, provider, provider_id, username, role)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'USER'))
		RETURNING id, role, created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		string(user.Provider),
		user.ProviderID,
		user.Username,
		user.Role,
	).Scan(&user.ID, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return mapErr(op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	return scanUser(op, s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	return scanUser(op, s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UserByProvider находит пользователя по паре (provider, provider_id).
func (s *Storage) UserByProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error) {
	const op = "storage.postgres.UserByProvider"

	query := `SELECT ` + userColumns + ` FROM users WHERE provider = $1 AND provider_id = $2`

	return scanUser(op, s.db.QueryRow(ctx, query, string(provider), providerID))
}

func scanUser(op string, row pgx.Row) (*models.User, error) {
	var (
		user     models.User
		provider string
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&provider,
		&user.ProviderID,
		&user.Username,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(op, err)
	}
	user.Provider = models.Provider(provider)

	return &user, nil
}
