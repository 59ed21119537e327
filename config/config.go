package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultIdleTimeout = 30 * time.Minute

type GRPC struct {
	Addr string `yaml:"addr"` // пусто: gRPC выключен
}

type HTTP struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Metrics        bool          `yaml:"metrics"`
	CORSOrigins    []string      `yaml:"corsOrigins"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // command-relay
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Relay struct {
	CodeLength      int           `yaml:"codeLength"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"` // 0: комнаты не истекают; ключ не задан: 30m
	SweepInterval   time.Duration `yaml:"sweepInterval"`
	MaxQueueLength  int           `yaml:"maxQueueLength"` // 0: без ограничения
	Overflow        string        `yaml:"overflow"`       // reject|drop_oldest
	MaxCommandBytes int           `yaml:"maxCommandBytes"`
	WSPollInterval  time.Duration `yaml:"wsPollInterval"`
	WSPingInterval  time.Duration `yaml:"wsPingInterval"`
}

type RateLimit struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Redis    Redis         `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"` // пусто: лимитер в памяти
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN      string `yaml:"dsn"` // пусто: аудит выключен
	MaxConns int32  `yaml:"maxConns"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Relay     Relay     `yaml:"relay"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Postgres  Postgres  `yaml:"postgres"`
}

// LoadConfig читает .env (если есть), затем YAML из CONFIG_PATH, затем переопределения из окружения.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	// дефолты, где явный ноль имеет смысл, ставим до разбора YAML
	cfg := Config{Relay: Relay{IdleTimeout: defaultIdleTimeout}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		c.GRPC.Addr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RateLimit.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	c.Relay.Overflow = strings.ToLower(strings.TrimSpace(c.Relay.Overflow))
	switch domain.OverflowPolicy(c.Relay.Overflow) {
	case "":
		c.Relay.Overflow = string(domain.OverflowReject)
	case domain.OverflowReject, domain.OverflowDropOldest:
	default:
		return fmt.Errorf("relay.overflow must be reject or drop_oldest, got %q", c.Relay.Overflow)
	}
	if c.Relay.MaxQueueLength < 0 {
		return errors.New("relay.maxQueueLength must not be negative")
	}
	if c.Relay.IdleTimeout < 0 {
		return errors.New("relay.idleTimeout must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		return errors.New("rateLimit.requests must be positive when rate limiting is enabled")
	}

	// установка дефолтов, если значения не указаны
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 10 * time.Second
	}
	if c.Relay.SweepInterval == 0 {
		c.Relay.SweepInterval = time.Minute
	}
	if c.Relay.MaxCommandBytes == 0 {
		c.Relay.MaxCommandBytes = 64 << 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "command-relay"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}
