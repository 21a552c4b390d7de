package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты поднимают PostgreSQL через testcontainers-go
// (образ postgres:16-alpine) и применяют встроенные миграции.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres поднимает временный PostgreSQL и возвращает хранилище.
// Без GO_TEST_INTEGRATION тест пропускается.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	require.NoError(t, Migrate(dsn))
	// повторный запуск - не ошибка
	require.NoError(t, Migrate(dsn))

	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}

func ptr[T any](v T) *T { return &v }

// seedUser создает локального пользователя.
func seedUser(t *testing.T, st *Storage, email string) *models.User {
	t.Helper()
	u := &models.User{
		Email:        email,
		PasswordHash: ptr("hash"),
		Provider:     models.ProviderLocal,
		Username:     "user",
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}
