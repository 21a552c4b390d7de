// Package memory - процесс-локальная реализация storage.Storage.
//
// Все операции сериализуются одним мьютексом; InRefreshTx держит его
// на время fn, поэтому ротации одного токена не пересекаются.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
)

// Storage хранит пользователей и refresh-токены в памяти.
type Storage struct {
	mu sync.Mutex

	now func() time.Time

	nextUserID  int64
	nextTokenID int64

	users         map[int64]models.User
	usersByEmail  map[string]int64
	usersBySub    map[string]int64
	tokens        map[string]models.RefreshToken
	tokensByOwner map[int64]map[string]struct{}
}

var _ storage.Storage = (*Storage)(nil)

// New создает пустое хранилище.
func New() *Storage {
	return &Storage{
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[int64]models.User),
		usersByEmail:  make(map[string]int64),
		usersBySub:    make(map[string]int64),
		tokens:        make(map[string]models.RefreshToken),
		tokensByOwner: make(map[int64]map[string]struct{}),
	}
}

func providerKey(p models.Provider, id string) string {
	return string(p) + "\x00" + id
}

func (s *Storage) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Storage) Close() {}

// SaveUser создает пользователя; email и (provider, provider_id) уникальны.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByEmail[user.Email]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if user.Provider != models.ProviderLocal && user.ProviderID != nil {
		if _, ok := s.usersBySub[providerKey(user.Provider, *user.ProviderID)]; ok {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
	}

	now := s.now()
	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	s.users[user.ID] = cloneUser(*user)
	s.usersByEmail[user.Email] = user.ID
	if user.Provider != models.ProviderLocal && user.ProviderID != nil {
		s.usersBySub[providerKey(user.Provider, *user.ProviderID)] = user.ID
	}

	return nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	u := cloneUser(s.users[id])

	return &u, nil
}

func (s *Storage) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.memory.UserByID"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	u = cloneUser(u)

	return &u, nil
}

func (s *Storage) UserByProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error) {
	const op = "storage.memory.UserByProvider"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersBySub[providerKey(provider, providerID)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	u := cloneUser(s.users[id])

	return &u, nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveTokenLocked(token)
}

func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tokenLocked(hash)
}

func (s *Storage) RefreshTokensByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.RefreshToken, 0, len(s.tokensByOwner[userID]))
	for hash := range s.tokensByOwner[userID] {
		out = append(out, cloneToken(s.tokens[hash]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeLocked(hash, now), nil
}

func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []string
	for hash := range s.tokensByOwner[userID] {
		if s.revokeLocked(hash, now) {
			revoked = append(revoked, hash)
		}
	}
	sort.Strings(revoked)

	return revoked, nil
}

func (s *Storage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			s.deleteTokenLocked(hash, t.UserID)
			n++
		}
	}

	return n, nil
}

func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash := range s.tokensByOwner[userID] {
		s.deleteTokenLocked(hash, userID)
		n++
	}

	return n, nil
}

// InRefreshTx выполняет fn под мьютексом хранилища. Изменения, сделанные fn,
// откатываются, если fn вернула ошибку.
func (s *Storage) InRefreshTx(ctx context.Context, fn func(tx storage.RefreshTokenTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &refreshTx{s: s, snapshot: make(map[string]*models.RefreshToken)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	return nil
}

type refreshTx struct {
	s *Storage
	// snapshot: хэш -> состояние до первой правки (nil - записи не было).
	snapshot map[string]*models.RefreshToken
}

func (tx *refreshTx) remember(hash string) {
	if _, ok := tx.snapshot[hash]; ok {
		return
	}
	if t, ok := tx.s.tokens[hash]; ok {
		c := cloneToken(t)
		tx.snapshot[hash] = &c
		return
	}
	tx.snapshot[hash] = nil
}

func (tx *refreshTx) rollback() {
	for hash, prev := range tx.snapshot {
		if prev == nil {
			if t, ok := tx.s.tokens[hash]; ok {
				tx.s.deleteTokenLocked(hash, t.UserID)
			}
			continue
		}
		tx.s.tokens[hash] = *prev
	}
}

func (tx *refreshTx) RefreshTokenForUpdate(ctx context.Context, hash string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx.s.tokenLocked(hash)
}

func (tx *refreshTx) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx.remember(hash)
	return tx.s.revokeLocked(hash, now), nil
}

func (tx *refreshTx) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.remember(token.TokenHash)
	return tx.s.saveTokenLocked(token)
}

func (s *Storage) saveTokenLocked(token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if _, ok := s.tokens[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: user %d: %w", op, token.UserID, storage.ErrNotFound)
	}

	now := s.now()
	s.nextTokenID++
	token.ID = s.nextTokenID
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = token.CreatedAt

	s.tokens[token.TokenHash] = cloneToken(*token)
	owned := s.tokensByOwner[token.UserID]
	if owned == nil {
		owned = make(map[string]struct{})
		s.tokensByOwner[token.UserID] = owned
	}
	owned[token.TokenHash] = struct{}{}

	return nil
}

func (s *Storage) tokenLocked(hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByHash"

	t, ok := s.tokens[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	t = cloneToken(t)

	return &t, nil
}

func (s *Storage) revokeLocked(hash string, now time.Time) bool {
	t, ok := s.tokens[hash]
	if !ok || t.RevokedAt != nil {
		return false
	}
	at := now.UTC()
	t.RevokedAt = &at
	t.UpdatedAt = at
	s.tokens[hash] = t

	return true
}

func (s *Storage) deleteTokenLocked(hash string, owner int64) {
	delete(s.tokens, hash)
	if owned := s.tokensByOwner[owner]; owned != nil {
		delete(owned, hash)
		if len(owned) == 0 {
			delete(s.tokensByOwner, owner)
		}
	}
}

func cloneUser(u models.User) models.User {
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		u.PasswordHash = &h
	}
	if u.ProviderID != nil {
		p := *u.ProviderID
		u.ProviderID = &p
	}
	return u
}

func cloneToken(t models.RefreshToken) models.RefreshToken {
	if t.RevokedAt != nil {
		r := *t.RevokedAt
		t.RevokedAt = &r
	}
	return t
}
