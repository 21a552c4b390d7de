package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/shop-backoffice/internal/http/errors"
	"github.com/pribylovaa/shop-backoffice/internal/models"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// Auth - операции идентификации, которые вызывают хендлеры (service.Service).
type Auth interface {
	RegisterUser(ctx context.Context, email, password string) (*models.User, error)
	LoginUser(ctx context.Context, email, password string) (*models.TokenPair, error)
	AuthenticateFederated(ctx context.Context, idToken string) (*models.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID int64) (int, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	Auth Auth
}

func New(auth Auth) *Handlers {
	return &Handlers{Auth: auth}
}

// credentialsRequest - тело /auth/register и /auth/login.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	IDToken string `json:"idToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Provider string `json:"provider"`
	Role     string `json:"role"`
}

func toTokenPair(p *models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:     p.AccessToken,
		RefreshToken:    p.RefreshToken,
		AccessExpiresAt: p.AccessExpiresAt.UTC(),
	}
}

func toUser(u *models.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		Provider: string(u.Provider),
		Role:     string(u.Role),
	}
}

// writeJSON - единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля
// и хвост после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return errors.Join(apierrors.ErrBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return apierrors.ErrBadRequest
	}
	return nil
}
