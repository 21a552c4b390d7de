// Package storage описывает контракт хранилища пользователей и refresh-токенов.
//
// Реализации: postgres (основная) и memory (локальный запуск, тесты).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/shop-backoffice/internal/models"
)

var (
	// ErrNotFound - запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушение уникальности (email, provider+subject, хэш токена).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает пользователя и заполняет ID, CreatedAt, UpdatedAt.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по нормализованному email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id int64) (*models.User, error)
	// UserByProvider находит пользователя по паре (provider, subject).
	UserByProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую запись и заполняет ID/метки времени.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит запись по хэшу значения.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RefreshTokensByUser возвращает все записи владельца.
	RefreshTokensByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error)
	// RevokeRefreshToken проставляет revoked_at, если он еще пуст.
	// Возвращает true, если запись была изменена этим вызовом.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error)
	// RevokeUserRefreshTokens отзывает все неотозванные токены владельца
	// и возвращает хэши отозванных записей.
	RevokeUserRefreshTokens(ctx context.Context, userID int64, now time.Time) ([]string, error)
	// DeleteExpiredTokens удаляет записи с expires_at < before.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
	// DeleteUserRefreshTokens удаляет все записи владельца.
	DeleteUserRefreshTokens(ctx context.Context, userID int64) (int64, error)
}

// RefreshTokenTx - операции над refresh-токенами внутри одной транзакции.
type RefreshTokenTx interface {
	// RefreshTokenForUpdate читает запись и блокирует ее до конца транзакции.
	RefreshTokenForUpdate(ctx context.Context, hash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error)
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
}

// RefreshTokenTxRunner выполняет fn атомарно: при ошибке fn изменения откатываются.
type RefreshTokenTxRunner interface {
	InRefreshTx(ctx context.Context, fn func(tx RefreshTokenTx) error) error
}

// Storage задает контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	RefreshTokenTxRunner
	Ping(ctx context.Context) error
	Close()
}
