package models

import "time"

// Provider - источник учетной записи.
type Provider string

const (
	// ProviderLocal - учетная запись с паролем.
	ProviderLocal Provider = "LOCAL"
	// ProviderFederated - учетная запись внешнего провайдера (Google).
	ProviderFederated Provider = "FEDERATED"
)

// RoleUser - роль, назначаемая каждому новому пользователю.
const RoleUser = "USER"

// User - модель пользователя в системе.
//
// Описание:
//   - PasswordHash равен nil для учетных записей, созданных через внешнего провайдера;
//   - ProviderID заполнен только для Provider == ProviderFederated;
//   - пара (Provider, ProviderID) уникальна, Email уникален глобально.
type User struct {
	ID           int64
	Email        string
	PasswordHash *string
	Provider     Provider
	ProviderID   *string
	Username     string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword сообщает, можно ли войти в учетную запись по паролю.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
