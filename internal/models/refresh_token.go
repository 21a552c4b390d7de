package models

import "time"

// RefreshToken - запись refresh-токена для управления сессиями.
//
// TokenHash - SHA-256 (base64url) от значения, выданного клиенту.
// Само значение на сервере не хранится.
type RefreshToken struct {
	ID        int64
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired - now строго позже ExpiresAt.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Revoked - токен отозван (отзыв необратим).
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Valid - токен не просрочен и не отозван.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Expired(now) && !t.Revoked()
}
