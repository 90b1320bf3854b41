package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ephemeral-chat/internal/room"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var storeDrivers = []string{"memory", "sqlite", "postgres", "redis"}

type Config struct {
	Env       string   `env:"APP_ENV" envDefault:"development"`
	Port      string   `env:"PORT" envDefault:"8080"`
	Host      string   `env:"HOST" envDefault:"0.0.0.0"`
	LogLevel  string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllow []string `env:"CORS_ALLOW" envDefault:"*" envSeparator:","`

	StoreDriver     string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"data/rooms.db"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	PersistDebounce time.Duration `env:"PERSIST_DEBOUNCE" envDefault:"250ms"`

	RoomCodeScheme string `env:"ROOM_CODE_SCHEME" envDefault:"words"`
	HistoryLimit   int    `env:"HISTORY_LIMIT" envDefault:"100"`

	AssistantName    string        `env:"ASSISTANT_NAME" envDefault:"ChatGPT-Mini"`
	AssistantTrigger string        `env:"ASSISTANT_TRIGGER" envDefault:"ai:"`
	OpenAIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIImageModel string        `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
	AssistantTimeout time.Duration `env:"ASSISTANT_TIMEOUT" envDefault:"20s"`
	SystemPrompt     string        `env:"ASSISTANT_SYSTEM_PROMPT"`

	RateBurst    int           `env:"RATE_BURST" envDefault:"5"`
	RateInterval time.Duration `env:"RATE_INTERVAL" envDefault:"500ms"`

	RestoredRoomTTL   time.Duration `env:"RESTORED_ROOM_TTL" envDefault:"30m"`
	SnapshotRetention time.Duration `env:"SNAPSHOT_RETENTION" envDefault:"24h"`
	JanitorSchedule   string        `env:"JANITOR_SCHEDULE" envDefault:"@every 1m"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	log.Info().Msg("[CONFIG] Attempting to load .env file...")
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("[CONFIG] No .env file found, relying on system environment variables")
	} else {
		log.Info().Msg("[CONFIG] Successfully loaded .env file")
	}

	cfg, err := parse(env.Options{})
	if err != nil {
		return nil, err
	}
	cfg.logSummary()
	return cfg, nil
}

// FromMap parses configuration from environ alone, ignoring the process
// environment.
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	driverOK := false
	for _, d := range storeDrivers {
		if c.StoreDriver == d {
			driverOK = true
		}
	}
	if !driverOK {
		problems = append(problems, fmt.Sprintf("STORE_DRIVER %q is not one of %s", c.StoreDriver, strings.Join(storeDrivers, ", ")))
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if c.RoomCodeScheme != "words" && c.RoomCodeScheme != "short" {
		problems = append(problems, fmt.Sprintf("ROOM_CODE_SCHEME %q is not words or short", c.RoomCodeScheme))
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > room.DefaultHistoryLimit {
		problems = append(problems, fmt.Sprintf("HISTORY_LIMIT must be between 1 and %d", room.DefaultHistoryLimit))
	}
	if c.RateBurst <= 0 || c.RateInterval <= 0 {
		problems = append(problems, "RATE_BURST and RATE_INTERVAL must be positive")
	}
	if c.AssistantTimeout <= 0 {
		problems = append(problems, "ASSISTANT_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.AssistantName) == "" {
		problems = append(problems, "ASSISTANT_NAME must not be blank")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) logSummary() {
	ev := log.Info().
		Str("env", c.Env).
		Str("addr", c.Addr()).
		Str("store", c.StoreDriver).
		Str("codes", c.RoomCodeScheme).
		Bool("openai", c.OpenAIKey != "")
	if c.DatabaseURL != "" {
		ev = ev.Str("database", maskDBSource(c.DatabaseURL))
	}
	ev.Msg("[CONFIG] All configuration variables successfully initialized")
}

func maskDBSource(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "invalid-dsn-format"
	}
	return u.Scheme + "://****:****@" + u.Host + u.Path
}
