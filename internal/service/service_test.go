package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/shop-backoffice/internal/config"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/session"
	"github.com/pribylovaa/shop-backoffice/internal/storage/memory"
	"github.com/pribylovaa/shop-backoffice/internal/token"
	"github.com/pribylovaa/shop-backoffice/mocks"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenTTL:    30 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		Issuer:            "shop-backoffice",
		PasswordMinLength: 6,
		RefreshTokenBytes: 32,
	}
}

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(testSecret, testCfg().AccessTokenTTL, testCfg().Issuer)
	require.NoError(t, err)
	return c
}

// fakeSessions - управляемая подмена session.Service.
type fakeSessions struct {
	issued   int
	validate func(plain string) (*models.RefreshToken, error)
	rotate   func(plain string, userID int64) (string, time.Time, error)
}

func (f *fakeSessions) Issue(_ context.Context, userID int64) (string, time.Time, error) {
	f.issued++
	return "refresh-for-user", time.Now().Add(time.Hour), nil
}

func (f *fakeSessions) Validate(_ context.Context, plain string) (*models.RefreshToken, error) {
	if f.validate != nil {
		return f.validate(plain)
	}
	return nil, session.ErrTokenNotFound
}

func (f *fakeSessions) Revoke(context.Context, string) error { return nil }

func (f *fakeSessions) RevokeAll(context.Context, int64) (int, error) { return 0, nil }

func (f *fakeSessions) Rotate(_ context.Context, plain string, userID int64) (string, time.Time, error) {
	if f.rotate != nil {
		return f.rotate(plain, userID)
	}
	return "", time.Time{}, session.ErrTokenRevoked
}

type mockDeps struct {
	users    *mocks.MockUserStorage
	verifier *mocks.MockIdentityVerifier
	pub      *mocks.MockPublisher
	sessions *fakeSessions
}

// newSvc - сервис на gomock-зависимостях.
func newSvc(t *testing.T) (*Service, mockDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)

	d := mockDeps{
		users:    mocks.NewMockUserStorage(ctrl),
		verifier: mocks.NewMockIdentityVerifier(ctrl),
		pub:      mocks.NewMockPublisher(ctrl),
		sessions: &fakeSessions{},
	}

	svc := New(d.users, d.sessions, testCodec(t), testCfg())
	svc.bcryptCost = bcrypt.MinCost
	svc.SetIdentityVerifier(d.verifier)
	svc.SetPublisher(d.pub)

	return svc, d
}

// newMemSvc - сервис поверх memory-хранилища и настоящего session.Service.
func newMemSvc(t *testing.T) (*Service, *memory.Storage) {
	t.Helper()

	st := memory.New()
	sessions := session.New(st, session.Config{TTL: testCfg().RefreshTokenTTL, TokenBytes: 32})
	svc := New(st, sessions, testCodec(t), testCfg())
	svc.bcryptCost = bcrypt.MinCost
	svc.SetPublisher(nil)

	return svc, st
}

func ptr[T any](v T) *T { return &v }

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	got, err := validateEmail("  User@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", got)

	for _, bad := range []string{"", "   ", "no-at", "User <u@x.com>", "a@"} {
		_, err := validateEmail(bad)
		require.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	require.NoError(t, validatePassword("secret", 6))
	require.NoError(t, validatePassword("пароль", 6))
	require.ErrorIs(t, validatePassword("", 6), ErrEmptyPassword)
	require.ErrorIs(t, validatePassword("abc", 6), ErrWeakPassword)

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, validatePassword(string(long), 6), ErrPasswordTooLong)
	require.NoError(t, validatePassword(string(long[:72]), 6))
}

func TestUserByID(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()

	d.users.EXPECT().UserByID(gomock.Any(), int64(1)).Return(&models.User{ID: 1}, nil)
	d.users.EXPECT().UserByID(gomock.Any(), int64(2)).Return(nil, fmtNotFound())
	d.users.EXPECT().UserByID(gomock.Any(), int64(3)).Return(nil, errors.New("db down"))

	u, err := svc.UserByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), u.ID)

	_, err = svc.UserByID(ctx, 2)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.UserByID(ctx, 3)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUserNotFound)
}
