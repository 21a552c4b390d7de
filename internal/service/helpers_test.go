package service

import (
	"fmt"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
	"github.com/pribylovaa/shop-backoffice/internal/token"
	"github.com/pribylovaa/shop-backoffice/mocks"
)

// fmtNotFound имитирует обернутую ошибку хранилища.
func fmtNotFound() error {
	return fmt.Errorf("storage.postgres.Query: %w", storage.ErrNotFound)
}

func fmtExists() error {
	return fmt.Errorf("storage.postgres.SaveUser: %w", storage.ErrAlreadyExists)
}

func tokenErrInvalid() error { return token.ErrInvalidToken }

func newVerifierMock(ctrl *gomock.Controller) *mocks.MockIdentityVerifier {
	return mocks.NewMockIdentityVerifier(ctrl)
}
