package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/shop-backoffice/internal/events"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/stretchr/testify/require"
)

func googleIdentity() *models.ExternalIdentity {
	return &models.ExternalIdentity{
		Subject:       "g-123",
		Email:         "Fed@Example.com",
		EmailVerified: true,
		Name:          "Fed User",
		Picture:       "https://example.com/a.png",
	}
}

func TestAuthenticateFederated_NewUser(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()

	d.verifier.EXPECT().Verify(gomock.Any(), "id-token").Return(googleIdentity(), nil)
	d.users.EXPECT().UserByProvider(gomock.Any(), models.ProviderFederated, "g-123").Return(nil, fmtNotFound())
	d.users.EXPECT().UserByEmail(gomock.Any(), "fed@example.com").Return(nil, fmtNotFound())
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(_ context.Context, u *models.User) error {
		require.Nil(t, u.PasswordHash)
		require.Equal(t, models.ProviderFederated, u.Provider)
		require.NotNil(t, u.ProviderID)
		require.Equal(t, "g-123", *u.ProviderID)
		require.Equal(t, "fed@example.com", u.Email)
		require.Equal(t, "Fed User", u.Username)
		u.ID = 42
		return nil
	})
	d.pub.EXPECT().PublishUserCreated(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(_ context.Context, ev events.UserCreated) error {
		require.Equal(t, int64(42), ev.UserID)
		require.Equal(t, "https://example.com/a.png", ev.AvatarURL)
		require.Equal(t, models.ProviderFederated, ev.Provider)
		return nil
	})

	pair, err := svc.AuthenticateFederated(ctx, "id-token")
	require.NoError(t, err)
	require.Equal(t, "refresh-for-user", pair.RefreshToken)

	claims, err := svc.codec.Verify(pair.AccessToken, "fed@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
}

func TestAuthenticateFederated_ExistingLinkedUser(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil)
	d.users.EXPECT().UserByProvider(gomock.Any(), models.ProviderFederated, "g-123").Return(&models.User{
		ID: 7, Email: "fed@example.com", Provider: models.ProviderFederated, ProviderID: ptr("g-123"),
	}, nil)
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Times(0)
	d.pub.EXPECT().PublishUserCreated(gomock.Any(), gomock.Any()).Times(0)

	pair, err := svc.AuthenticateFederated(context.Background(), "id-token")
	require.NoError(t, err)

	claims, err := svc.codec.Verify(pair.AccessToken, "fed@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
}

func TestAuthenticateFederated_EmailCollision(t *testing.T) {
	t.Parallel()

	for name, existing := range map[string]*models.User{
		"local account": {ID: 1, Email: "fed@example.com", Provider: models.ProviderLocal, PasswordHash: ptr("h")},
		"other subject": {ID: 2, Email: "fed@example.com", Provider: models.ProviderFederated, ProviderID: ptr("g-999")},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			svc, d := newSvc(t)
			d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil)
			d.users.EXPECT().UserByProvider(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fmtNotFound())
			d.users.EXPECT().UserByEmail(gomock.Any(), "fed@example.com").Return(existing, nil)
			d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Times(0)

			_, err := svc.AuthenticateFederated(context.Background(), "id-token")
			require.ErrorIs(t, err, ErrAccountAlreadyExists)
			require.NotContains(t, err.Error(), string(existing.Provider))
			require.Zero(t, d.sessions.issued)
		})
	}
}

func TestAuthenticateFederated_RejectedToken(t *testing.T) {
	t.Parallel()

	t.Run("verifier error", func(t *testing.T) {
		t.Parallel()

		svc, d := newSvc(t)
		d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, errors.New("bad signature"))

		_, err := svc.AuthenticateFederated(context.Background(), "forged")
		require.ErrorIs(t, err, ErrInvalidExternalToken)
	})

	t.Run("email not verified", func(t *testing.T) {
		t.Parallel()

		svc, d := newSvc(t)
		ext := googleIdentity()
		ext.EmailVerified = false
		d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(ext, nil)

		_, err := svc.AuthenticateFederated(context.Background(), "id-token")
		require.ErrorIs(t, err, ErrInvalidExternalToken)
	})

	t.Run("malformed email", func(t *testing.T) {
		t.Parallel()

		svc, d := newSvc(t)
		ext := googleIdentity()
		ext.Email = "nope"
		d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(ext, nil)

		_, err := svc.AuthenticateFederated(context.Background(), "id-token")
		require.ErrorIs(t, err, ErrInvalidExternalToken)
	})
}

func TestAuthenticateFederated_Disabled(t *testing.T) {
	t.Parallel()

	svc, _ := newSvc(t)
	svc.SetIdentityVerifier(nil)

	_, err := svc.AuthenticateFederated(context.Background(), "id-token")
	require.ErrorIs(t, err, ErrFederationDisabled)
}

func TestAuthenticateFederated_FirstLoginRace(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	winner := &models.User{ID: 9, Email: "fed@example.com", Provider: models.ProviderFederated, ProviderID: ptr("g-123")}

	d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil)
	gomock.InOrder(
		d.users.EXPECT().UserByProvider(gomock.Any(), models.ProviderFederated, "g-123").Return(nil, fmtNotFound()),
		d.users.EXPECT().UserByProvider(gomock.Any(), models.ProviderFederated, "g-123").Return(winner, nil),
	)
	d.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, fmtNotFound())
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(fmtExists())
	d.pub.EXPECT().PublishUserCreated(gomock.Any(), gomock.Any()).Times(0)

	pair, err := svc.AuthenticateFederated(context.Background(), "id-token")
	require.NoError(t, err)

	claims, err := svc.codec.Verify(pair.AccessToken, "fed@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(9), claims.UserID)
}

func TestAuthenticateFederated_RaceLostToOtherAccount(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil)
	d.users.EXPECT().UserByProvider(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fmtNotFound()).Times(2)
	d.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, fmtNotFound())
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(fmtExists())

	_, err := svc.AuthenticateFederated(context.Background(), "id-token")
	require.ErrorIs(t, err, ErrAccountAlreadyExists)
}

func TestAuthenticateFederated_PublishFailureTolerated(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil)
	d.users.EXPECT().UserByProvider(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fmtNotFound())
	d.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, fmtNotFound())
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		u.ID = 7
		return nil
	})
	d.pub.EXPECT().PublishUserCreated(gomock.Any(), gomock.Any()).Times(1).Return(errors.New("broker down"))

	pair, err := svc.AuthenticateFederated(context.Background(), "id-token")
	require.NoError(t, err)
	require.Equal(t, 1, d.sessions.issued)

	claims, err := svc.codec.Verify(pair.AccessToken, "fed@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
}

func TestAuthenticateFederated_MemoryStore(t *testing.T) {
	t.Parallel()

	svc, st := newMemSvc(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	verifier := newVerifierMock(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(googleIdentity(), nil).Times(2)
	svc.SetIdentityVerifier(verifier)

	first, err := svc.AuthenticateFederated(ctx, "id-token")
	require.NoError(t, err)
	second, err := svc.AuthenticateFederated(ctx, "id-token")
	require.NoError(t, err)

	u, err := st.UserByProvider(ctx, models.ProviderFederated, "g-123")
	require.NoError(t, err)
	require.False(t, u.HasPassword())

	for _, p := range []*models.TokenPair{first, second} {
		claims, err := svc.codec.Verify(p.AccessToken, u.Email)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.UserID)
	}

	// федеративный пользователь не может войти по паролю
	_, err = svc.LoginUser(ctx, u.Email, "anything")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	svc, _ := newSvc(t)

	cases := []struct {
		name, raw, want string
	}{
		{"plain", "Jane Doe", "Jane Doe"},
		{"markup stripped", "<script>alert(1)</script>Jane <b>Doe</b>", "Jane Doe"},
		{"whitespace collapsed", "  Jane \n\t Doe ", "Jane Doe"},
		{"empty falls back", "", "jane"},
		{"only markup falls back", "<img src=x>", "jane"},
		{"truncated", strings.Repeat("я", 100), strings.Repeat("я", maxUsernameRunes)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, svc.displayName(tc.raw, "jane@example.com"))
		})
	}
}
