// Package google проверяет Google ID-токены (OIDC) и извлекает из них личность.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pribylovaa/shop-backoffice/internal/models"
)

// DefaultIssuer - issuer Google для discovery.
const DefaultIssuer = "https://accounts.google.com"

// ErrInvalidIDToken - токен не прошел проверку подписи, аудитории, срока
// или не содержит обязательных claims.
var ErrInvalidIDToken = errors.New("invalid id token")

// Verifier проверяет ID-токены, выпущенные для нашего client_id.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// New получает ключи провайдера через OIDC discovery.
func New(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	const op = "google.New"

	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is required", op)
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewWithKeySet создает Verifier с заранее известными ключами (тесты, офлайн-режим).
func NewWithKeySet(issuer, clientID string, keys oidc.KeySet, now func() time.Time) *Verifier {
	return &Verifier{verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: clientID, Now: now})}
}

type idClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// Verify проверяет токен и возвращает личность. Любая ошибка проверки
// (включая сетевую при загрузке ключей) сводится к ErrInvalidIDToken.
func (v *Verifier) Verify(ctx context.Context, raw string) (*models.ExternalIdentity, error) {
	const op = "google.Verifier.Verify"

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s: empty token: %w", op, ErrInvalidIDToken)
	}

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidIDToken, err)
	}

	var c idClaims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%s: claims: %w: %v", op, ErrInvalidIDToken, err)
	}
	if c.Subject == "" || c.Email == "" {
		return nil, fmt.Errorf("%s: missing sub/email: %w", op, ErrInvalidIDToken)
	}

	return &models.ExternalIdentity{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: bool(c.EmailVerified),
		Name:          c.Name,
		Picture:       c.Picture,
	}, nil
}

// flexBool принимает и true, и "true": Google встречается в обоих видах.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(strings.EqualFold(t, "true"))
	default:
		*b = false
	}

	return nil
}
