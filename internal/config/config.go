// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pribylovaa/shop-backoffice/internal/token"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config - корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Auth     AuthConfig    `yaml:"auth"`
	Google   GoogleConfig  `yaml:"google"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Janitor  JanitorConfig `yaml:"janitor"`
}

// TimeoutConfig - таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// HTTPConfig - сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
// JWTSecret - base64, не короче 32 байт после декодирования.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer            string        `yaml:"issuer" env:"ISSUER" env-default:"shop-backoffice"`
	Leeway            time.Duration `yaml:"leeway" env:"TOKEN_LEEWAY" env-default:"0s"`
	PasswordMinLength int           `yaml:"password_min_length" env:"PASSWORD_MIN_LENGTH" env-default:"6"`
	RefreshTokenBytes int           `yaml:"refresh_token_bytes" env:"REFRESH_TOKEN_BYTES" env-default:"32"`
}

// GoogleConfig - вход через Google. Пустой ClientID отключает федерацию.
type GoogleConfig struct {
	ClientID string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	Issuer   string `yaml:"issuer" env:"GOOGLE_ISSUER" env-default:"https://accounts.google.com"`
}

// DBConfig - настройки хранилища.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	// SkipMigrate отключает применение миграций при старте (по умолчанию миграции применяются).
	SkipMigrate bool   `yaml:"skip_migrate" env:"DB_SKIP_MIGRATE"`
}

// RedisConfig - кэш отзыва и канал событий. Пустой RedisURL отключает оба.
type RedisConfig struct {
	RedisURL      string `yaml:"redis_url" env:"REDIS_URL"`
	CachePrefix   string `yaml:"cache_prefix" env:"REDIS_CACHE_PREFIX" env-default:"backoffice:rt:"`
	EventsChannel string `yaml:"events_channel" env:"REDIS_EVENTS_CHANNEL" env-default:"backoffice.users"`
}

// JanitorConfig - периодическая очистка просроченных refresh-токенов.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"1h"`
}

// Validate проверяет значения, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	var errs []error

	if _, err := token.DecodeSecret(c.Auth.JWTSecret); err != nil {
		errs = append(errs, fmt.Errorf("auth.jwt_secret: %w", err))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("auth.refresh_token_ttl must exceed access_token_ttl"))
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("auth.leeway must not be negative"))
	}
	if c.Auth.PasswordMinLength < 1 {
		errs = append(errs, errors.New("auth.password_min_length must be at least 1"))
	}
	if c.Auth.RefreshTokenBytes < 16 {
		errs = append(errs, errors.New("auth.refresh_token_bytes must be at least 16"))
	}

	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			errs = append(errs, errors.New("db.db_url is required for postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}

	if c.Janitor.Period <= 0 {
		errs = append(errs, errors.New("janitor.period must be positive"))
	}

	return errors.Join(errs...)
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла поверх значений из YAML накладываются ENV-переменные.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	fromFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		// ReadConfig сам накладывает ENV поверх файла.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", p, err)
		}

		return &cfg, nil
	}

	if path != "" {
		return fromFile(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return fromFile(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return fromFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
