// Package events публикует уведомления о новых пользователях
// для сервисов, которые создают профиль (Redis Pub/Sub).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/shop-backoffice/internal/models"
	"github.com/pribylovaa/shop-backoffice/internal/pkg/redact"
	"github.com/redis/go-redis/v9"
)

// TypeUserCreated - тип события о новом пользователе.
const TypeUserCreated = "user.created"

// DefaultChannel - канал Redis, если в конфиге он пуст.
const DefaultChannel = "backoffice.users"

// UserCreated - полезная нагрузка события о новом пользователе.
type UserCreated struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	UserID     int64           `json:"user_id"`
	Email      string          `json:"email"`
	Username   string          `json:"username"`
	AvatarURL  string          `json:"avatar_url,omitempty"`
	Provider   models.Provider `json:"provider"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewUserCreated заполняет событие по созданному пользователю.
func NewUserCreated(u *models.User, avatarURL string, now time.Time) UserCreated {
	return UserCreated{
		EventID:    uuid.NewString(),
		Type:       TypeUserCreated,
		UserID:     u.ID,
		Email:      u.Email,
		Username:   u.Username,
		AvatarURL:  avatarURL,
		Provider:   u.Provider,
		OccurredAt: now.UTC(),
	}
}

// Publisher отправляет события во внешнюю систему.
type Publisher interface {
	PublishUserCreated(ctx context.Context, ev UserCreated) error
}

// RedisPublisher публикует события командой PUBLISH.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher создает публикатор поверх общего клиента.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) PublishUserCreated(ctx context.Context, ev UserCreated) error {
	const op = "events.RedisPublisher.PublishUserCreated"

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogPublisher только пишет событие в лог; используется без Redis.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishUserCreated(_ context.Context, ev UserCreated) error {
	p.log.Info("user_created_event",
		slog.String("event_id", ev.EventID),
		slog.Int64("user_id", ev.UserID),
		slog.String("email", redact.Email(ev.Email)),
		slog.String("provider", string(ev.Provider)),
	)

	return nil
}
