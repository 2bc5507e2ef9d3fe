package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	BusLocal = "local"
	BusRedis = "redis"
)

type GRPC struct {
	Addr string `yaml:"addr"`
}

type HTTP struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"` // "10s"
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // vidcon-gateway
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Store struct {
	Driver string `yaml:"driver"` // postgres|sqlite
}

type Postgres struct {
	DSN               string `yaml:"dsn"`
	MaxConns          int32  `yaml:"maxConns"`
	MinConns          int32  `yaml:"minConns"`
	MaxConnLifetime   string `yaml:"maxConnLifetime"`
	MaxConnIdleTime   string `yaml:"maxConnIdleTime"`
	HealthCheckPeriod string `yaml:"healthCheckPeriod"`
	ApplicationName   string `yaml:"applicationName"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Bus struct {
	Driver string `yaml:"driver"` // local|redis
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"` // префикс канала изменений
}

type Auth struct {
	// пустой секрет: проверка токенов выключена (dev)
	JWTSecret string `yaml:"jwtSecret"`
}

type Chat struct {
	MaxLength  int     `yaml:"maxLength"`
	RatePerSec float64 `yaml:"ratePerSec"`
	Burst      int     `yaml:"burst"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	SQLite   SQLite   `yaml:"sqlite"`
	Bus      Bus      `yaml:"bus"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Chat     Chat     `yaml:"chat"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StorePostgres
	}
	switch c.Store.Driver {
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			c.SQLite.Path = "vidcon.db"
		}
	default:
		return errors.New("store.driver must be postgres or sqlite")
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = BusLocal
	}
	switch c.Bus.Driver {
	case BusLocal:
	case BusRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for bus.driver=redis")
		}
	default:
		return errors.New("bus.driver must be local or redis")
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "vidcon:changes"
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "vidcon-gateway"
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
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.Chat.MaxLength <= 0 {
		c.Chat.MaxLength = 4000
	}
	if c.Chat.RatePerSec <= 0 {
		c.Chat.RatePerSec = 5
	}
	if c.Chat.Burst <= 0 {
		c.Chat.Burst = 10
	}
	return nil
}

func (c HTTP) ShutdownTimeoutOr(def time.Duration) time.Duration {
	return parseDurationOr(def, c.ShutdownTimeout)
}

func (p Postgres) Lifetimes() (maxLifetime, maxIdle, healthCheck time.Duration) {
	return parseDurationOr(0, p.MaxConnLifetime),
		parseDurationOr(0, p.MaxConnIdleTime),
		parseDurationOr(0, p.HealthCheckPeriod)
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
