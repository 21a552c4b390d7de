package models

// ExternalIdentity - проверенные данные из ID-токена внешнего провайдера.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Principal - проверенная личность вызывающего в рамках одного запроса.
type Principal struct {
	UserID int64
	Email  string
	Role   string
}
