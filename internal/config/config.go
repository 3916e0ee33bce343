// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Поддерживаемые окружения.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config: корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Auth     AuthConfig     `yaml:"auth"`
	Features FeaturesConfig `yaml:"features"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

// IsProd сообщает, запущен ли сервис в продакшене (влияет на Secure-флаг cookie).
func (c *Config) IsProd() bool { return c.Env == EnvProd }

// TimeoutConfig: таймауты и периоды фоновых задач.
type TimeoutConfig struct {
	Service       time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	JanitorPeriod time.Duration `yaml:"janitor_period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// HTTPConfig: публичный REST-сервер.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50080"`
}

// GRPCConfig: внутренний gRPC-сервер (health-check).
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string { return net.JoinHostPort(g.Host, g.Port) }

// AuthConfig содержит параметры выпуска и проверки токенов.
//   - SessionTTL: срок жизни непрозрачного access-токена (cookie);
//   - SignedTokenTTL: срок жизни подписанного JWT;
//   - AppBaseURL: база для ссылок в письмах (сброс пароля, подтверждение e-mail).
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"168h"`
	SignedTokenTTL time.Duration `yaml:"signed_token_ttl" env:"SIGNED_TOKEN_TTL" env-default:"168h"`
	Issuer         string        `yaml:"issuer" env:"ISSUER" env-default:"auth-service"`
	Audience       []string      `yaml:"audience" env:"AUDIENCE" env-default:"web"`
	BcryptCost     int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"12"`
	AppBaseURL     string        `yaml:"app_base_url" env:"APP_BASE_URL" env-default:"http://localhost:3000"`
}

// FeaturesConfig: переключатели публичных сценариев.
type FeaturesConfig struct {
	EnableRegistration     bool `yaml:"enable_registration" env:"ENABLE_REGISTRATION" env-default:"false"`
	EnablePasswordRecovery bool `yaml:"enable_password_recovery" env:"ENABLE_PASSWORD_RECOVERY" env-default:"false"`
}

// DBConfig: настройки подключения к PostgreSQL.
// AcquireTimeout ограничивает ожидание свободного соединения в пуле.
type DBConfig struct {
	DatabaseURL    string        `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
	MaxConns       int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"20"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"DB_ACQUIRE_TIMEOUT" env-default:"2s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"DB_CONNECT_TIMEOUT" env-default:"5s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"DB_IDLE_TIMEOUT" env-default:"30s"`
	Migrate        bool          `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

// RedisConfig: общий счётчик rate-limit для нескольких инстансов.
// Пустой RedisURL означает счётчики в памяти процесса.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:rl:"`
}

// SMTPConfig: доставка писем. Пустой Host включает лог-отправитель.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASS"`
	From     string `yaml:"from" env:"EMAIL_FROM" env-default:"no-reply@localhost"`
	// Timeout ограничивает весь SMTP-диалог, от dial до QUIT.
	Timeout time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"10s"`
}

// MustLoad: обёртка над Load с panic при ошибке.
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
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	var (
		out *Config
		err error
	)

	switch {
	case path != "":
		out, err = tryRead(path)
	case os.Getenv("CONFIG_PATH") != "":
		out, err = tryRead(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat("local.yaml"); statErr == nil {
			out, err = tryRead("local.yaml")
			break
		}

		if err = cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
		out = &cfg
	}

	if err != nil {
		return nil, err
	}

	if err := out.validate(); err != nil {
		return nil, err
	}

	return out, nil
}

// validate проверяет значения, которые cleanenv не в состоянии проверить сам.
func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("config: unknown env %q", c.Env)
	}

	if c.Auth.SessionTTL <= 0 || c.Auth.SignedTokenTTL <= 0 {
		return fmt.Errorf("config: token ttl must be positive")
	}

	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("config: bcrypt_cost must be within [4, 31]")
	}

	if c.DB.AcquireTimeout <= 0 {
		return fmt.Errorf("config: db acquire_timeout must be positive")
	}

	return nil
}
