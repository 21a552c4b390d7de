// Package token выпускает и проверяет access-токены (JWT, HS256).
//
// Subject токена - email пользователя, дополнительный claim uid - числовой ID.
// Codec не имеет изменяемого состояния и безопасен для конкурентного использования.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLen - минимальная длина ключа подписи в байтах.
const MinSecretLen = 32

var (
	// ErrInvalidToken - токен поврежден, подпись не сходится, claims невалидны
	// или личность не совпала. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired - срок действия истек; errors.Is(ErrExpired, ErrInvalidToken) == true.
	ErrExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
	// ErrWeakSecret - ключ подписи короче MinSecretLen или не в base64.
	ErrWeakSecret = errors.New("signing secret must be base64 with at least 32 decoded bytes")
)

// Claims - типизированные claims access-токена.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Email возвращает личность, зашитую в subject.
func (c *Claims) Email() string { return c.Subject }

func (c *Claims) validate() error {
	if strings.TrimSpace(c.Subject) == "" || c.UserID <= 0 || c.ExpiresAt == nil {
		return ErrInvalidToken
	}

	return nil
}

// Codec выпускает и проверяет access-токены.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithLeeway задает допуск рассинхронизации часов при проверке exp/iat.
func WithLeeway(d time.Duration) Option {
	return func(c *Codec) { c.leeway = d }
}

// DecodeSecret декодирует ключ подписи из base64 (std или url, с паддингом или без).
func DecodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			if len(b) < MinSecretLen {
				return nil, ErrWeakSecret
			}
			return b, nil
		}
	}

	return nil, ErrWeakSecret
}

// NewCodec создает Codec. Ключ копируется и далее не меняется.
func NewCodec(secret []byte, ttl time.Duration, issuer string, opts ...Option) (*Codec, error) {
	const op = "token.NewCodec"

	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%s: %w", op, ErrWeakSecret)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl must be positive", op)
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	return c, nil
}

// TTL - время жизни выпускаемых токенов.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue выпускает токен для пользователя: exp = now + TTL с точностью до секунды.
func (c *Codec) Issue(userID int64, email string) (string, time.Time, error) {
	const op = "token.Codec.Issue"

	if userID <= 0 || strings.TrimSpace(email) == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty identity", op)
	}

	// В JWT время хранится в целых секундах: exp округляется вверх,
	// чтобы токен жил не меньше TTL и совпадал с возвращаемым временем.
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	if t := exp.Truncate(time.Second); !t.Equal(exp) {
		exp = t.Add(time.Second)
	}

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// Parse проверяет подпись, алгоритм, issuer и срок действия и возвращает claims.
func (c *Codec) Parse(raw string) (*Claims, error) {
	const op = "token.Codec.Parse"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	if err := claims.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// Verify успешен, только если токен валиден и subject совпадает с expectedEmail.
func (c *Codec) Verify(raw, expectedEmail string) (*Claims, error) {
	const op = "token.Codec.Verify"

	claims, err := c.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(claims.Subject, expectedEmail) {
		return nil, fmt.Errorf("%s: subject mismatch: %w", op, ErrInvalidToken)
	}

	return claims, nil
}

// ExtractIdentity читает claims без проверки подписи и срока.
// Результату нельзя доверять до вызова Verify.
func (c *Codec) ExtractIdentity(raw string) (*Claims, error) {
	const op = "token.Codec.ExtractIdentity"

	claims := &Claims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidToken, err)
	}
	if tok.Method == nil || tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%s: unexpected alg: %w", op, ErrInvalidToken)
	}
	if err := claims.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}
