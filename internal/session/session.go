// Package session управляет жизненным циклом refresh-токенов:
// выпуск, проверка, отзыв и ротация.
//
// Значение токена - 32 случайных байта в base64url; в хранилище попадает
// только SHA-256 от значения. Ротация выполняется в одной транзакции
// с блокировкой строки старого токена, поэтому из двух конкурентных
// ротаций одного токена успешна ровно одна.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/shop-backoffice/internal/cache"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/log"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
)

var (
	// ErrTokenNotFound - токен не найден или принадлежит другому пользователю.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenExpired - срок действия токена истек.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrTokenRevoked - токен отозван (logout/ротация) и больше не станет валидным.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrTokenCollision - исчерпаны попытки сгенерировать уникальное значение.
	ErrTokenCollision = errors.New("refresh token collision")
)

const (
	defaultTokenBytes = 32
	minTokenBytes     = 16
	maxIssueAttempts  = 5
)

// Store - хранилище refresh-токенов с поддержкой транзакций.
type Store interface {
	storage.RefreshTokenStorage
	storage.RefreshTokenTxRunner
}

// Cache - кэш статуса refresh-токенов (Redis).
type Cache interface {
	Get(ctx context.Context, hash string) (*cache.RefreshEntry, bool, error)
	Set(ctx context.Context, hash string, e *cache.RefreshEntry, ttl time.Duration) error
	MarkRevoked(ctx context.Context, hash string) error
}

// Config - параметры выпуска refresh-токенов.
type Config struct {
	TTL        time.Duration
	TokenBytes int
}

// Service - единственный владелец состояний refresh-токенов.
type Service struct {
	store      Store
	cache      Cache // может быть nil
	ttl        time.Duration
	tokenBytes int
	now        func() time.Time
}

// New создает Service.
func New(store Store, cfg Config) *Service {
	n := cfg.TokenBytes
	if n < minTokenBytes {
		n = defaultTokenBytes
	}

	return &Service{
		store:      store,
		ttl:        cfg.TTL,
		tokenBytes: n,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetCache подключает кэш статуса токенов (опционально).
func (s *Service) SetCache(c Cache) {
	s.cache = c
}

// Hash возвращает значение колонки token для открытого значения refresh-токена.
func Hash(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Issue выпускает новый refresh-токен пользователя.
func (s *Service) Issue(ctx context.Context, userID int64) (string, time.Time, error) {
	const op = "session.Issue"

	now := s.now()
	plain, rec, err := s.create(ctx, s.store, userID, now)
	if err != nil {
		log.From(ctx).Error("refresh_issue_failed",
			slog.String("op", op),
			slog.Int64("user_id", userID),
			log.Err(err),
		)
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	s.cacheSet(ctx, rec, now)

	return plain, rec.ExpiresAt, nil
}

// Validate возвращает запись, только если токен существует, не просрочен
// и не отозван. Просрочка проверяется раньше отзыва.
func (s *Service) Validate(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "session.Validate"

	lg := log.From(ctx)

	if plain == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}
	hash := Hash(plain)
	now := s.now()

	if e, ok := s.cacheGet(ctx, hash); ok && e.Revoked {
		if now.After(e.ExpiresAt) {
			lg.Warn("refresh_expired", slog.String("op", op), slog.Int64("user_id", e.UserID), slog.Bool("cached", true))
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		lg.Warn("refresh_revoked", slog.String("op", op), slog.Int64("user_id", e.UserID), slog.Bool("cached", true))
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	rec, err := s.store.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		}
		lg.Error("refresh_lookup_failed", slog.String("op", op), log.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkState(rec, now); err != nil {
		lg.Warn(stateEvent(err), slog.String("op", op), slog.Int64("user_id", rec.UserID))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// Revoke отзывает токен. Повторный отзыв и отзыв несуществующего токена
// ничего не делают; метка revoked_at ставится один раз.
func (s *Service) Revoke(ctx context.Context, plain string) error {
	const op = "session.Revoke"

	if plain == "" {
		return nil
	}
	hash := Hash(plain)

	changed, err := s.store.RevokeRefreshToken(ctx, hash, s.now())
	if err != nil {
		log.From(ctx).Error("refresh_revoke_failed", slog.String("op", op), log.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		log.From(ctx).Info("refresh_revoked", slog.String("op", op))
		s.cacheRevoke(ctx, hash)
	}

	return nil
}

// RevokeAll отзывает все действующие токены пользователя и возвращает их число.
func (s *Service) RevokeAll(ctx context.Context, userID int64) (int, error) {
	const op = "session.RevokeAll"

	hashes, err := s.store.RevokeUserRefreshTokens(ctx, userID, s.now())
	if err != nil {
		log.From(ctx).Error("refresh_revoke_all_failed",
			slog.String("op", op),
			slog.Int64("user_id", userID),
			log.Err(err),
		)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	for _, h := range hashes {
		s.cacheRevoke(ctx, h)
	}

	log.From(ctx).Info("refresh_revoked_all",
		slog.String("op", op),
		slog.Int64("user_id", userID),
		slog.Int("count", len(hashes)),
	)

	return len(hashes), nil
}

// Rotate отзывает oldPlain и выпускает новый токен в одной транзакции.
// Состояние старого токена проверяется под блокировкой строки; кэш не используется.
func (s *Service) Rotate(ctx context.Context, oldPlain string, userID int64) (string, time.Time, error) {
	const op = "session.Rotate"

	lg := log.From(ctx)

	if oldPlain == "" {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}
	oldHash := Hash(oldPlain)
	now := s.now()

	var (
		plain string
		fresh *models.RefreshToken
	)
	err := s.store.InRefreshTx(ctx, func(tx storage.RefreshTokenTx) error {
		rec, err := tx.RefreshTokenForUpdate(ctx, oldHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if rec.UserID != userID {
			lg.Warn("refresh_owner_mismatch",
				slog.String("op", op),
				slog.Int64("user_id", userID),
				slog.Int64("owner_id", rec.UserID),
			)
			return ErrTokenNotFound
		}
		if err := checkState(rec, now); err != nil {
			return err
		}

		changed, err := tx.RevokeRefreshToken(ctx, oldHash, now)
		if err != nil {
			return err
		}
		if !changed {
			return ErrTokenRevoked
		}

		plain, fresh, err = s.create(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRevoked):
			lg.Warn(stateEvent(err), slog.String("op", op), slog.Int64("user_id", userID))
		default:
			lg.Error("refresh_rotate_failed", slog.String("op", op), slog.Int64("user_id", userID), log.Err(err))
		}
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	s.cacheRevoke(ctx, oldHash)
	s.cacheSet(ctx, fresh, now)

	lg.Info("refresh_rotated", slog.String("op", op), slog.Int64("user_id", userID))

	return plain, fresh.ExpiresAt, nil
}

type tokenSaver interface {
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
}

// create генерирует значение и сохраняет запись, повторяя попытку при коллизии хэша.
func (s *Service) create(ctx context.Context, dst tokenSaver, userID int64, now time.Time) (string, *models.RefreshToken, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		b := make([]byte, s.tokenBytes)
		if _, err := rand.Read(b); err != nil {
			return "", nil, err
		}
		plain := base64.RawURLEncoding.EncodeToString(b)

		rec := &models.RefreshToken{
			TokenHash: Hash(plain),
			UserID:    userID,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		if err := dst.SaveRefreshToken(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return "", nil, err
		}

		return plain, rec, nil
	}

	return "", nil, ErrTokenCollision
}

func checkState(rec *models.RefreshToken, now time.Time) error {
	if rec.Expired(now) {
		return ErrTokenExpired
	}
	if rec.Revoked() {
		return ErrTokenRevoked
	}
	return nil
}

func stateEvent(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "refresh_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "refresh_revoked"
	default:
		return "refresh_not_found"
	}
}

// Ошибки кэша не влияют на результат: хранилище остается источником истины.

func (s *Service) cacheGet(ctx context.Context, hash string) (*cache.RefreshEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	e, ok, err := s.cache.Get(ctx, hash)
	if err != nil {
		log.From(ctx).Warn("refresh_cache_get_failed", log.Err(err))
		return nil, false
	}
	return e, ok
}

func (s *Service) cacheSet(ctx context.Context, rec *models.RefreshToken, now time.Time) {
	if s.cache == nil {
		return
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	e := &cache.RefreshEntry{UserID: rec.UserID, ExpiresAt: rec.ExpiresAt}
	if err := s.cache.Set(ctx, rec.TokenHash, e, ttl); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", log.Err(err))
	}
}

func (s *Service) cacheRevoke(ctx context.Context, hash string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkRevoked(ctx, hash); err != nil {
		log.From(ctx).Warn("refresh_cache_revoke_failed", log.Err(err))
	}
}
