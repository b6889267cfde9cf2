package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppName string `yaml:"app_name" env:"APP_NAME"`
	Env     string `yaml:"env" env:"APP_ENV"`
	Host    string `yaml:"host" env:"HTTP_HOST"`
	Port    int    `yaml:"port" env:"HTTP_PORT"`

	DBDriver         string `yaml:"db_driver" env:"DB_DRIVER"`
	SQLitePath       string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresHost     string `yaml:"postgres_host" env:"POSTGRES_HOST"`
	PostgresPort     string `yaml:"postgres_port" env:"POSTGRES_PORT"`
	PostgresUser     string `yaml:"postgres_user" env:"POSTGRES_USER"`
	PostgresPassword string `yaml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `yaml:"postgres_db" env:"POSTGRES_DB"`
	// DatabaseURL is derived from the Postgres fields.
	DatabaseURL string `yaml:"-"`

	JWTSecret          string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	AccessTokenMinutes int      `yaml:"access_token_minutes" env:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	EncryptKey         string   `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	LegacyEncryptKeys  []string `yaml:"legacy_encryption_keys" env:"LEGACY_ENCRYPTION_KEYS" envSeparator:","`

	CORSOrigins                []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	Debug                      bool     `yaml:"debug" env:"DEBUG"`
	MaxMessagesPerConversation int      `yaml:"max_messages_per_conversation" env:"MAX_MESSAGES_PER_CONVERSATION"`

	LogBackend string `yaml:"log_backend" env:"LOG_BACKEND"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`

	WS WSConfig `yaml:"ws"`
}

// WSConfig tunes the real-time hub.
type WSConfig struct {
	SendBuffer      int           `yaml:"send_buffer" env:"WS_SEND_BUFFER"`
	WriteWait       time.Duration `yaml:"write_wait" env:"WS_WRITE_WAIT"`
	PongWait        time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT"`
	PingPeriod      time.Duration `yaml:"ping_period" env:"WS_PING_PERIOD"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"WS_MAX_MESSAGE_BYTES"`
	MaxDecodeErrors int           `yaml:"max_decode_errors" env:"WS_MAX_DECODE_ERRORS"`
	PersistTimeout  time.Duration `yaml:"persist_timeout" env:"WS_PERSIST_TIMEOUT"`
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set) and
// then the process environment, which wins over both.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := readYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.AppName, "zChat Go API")
	setDefault(&c.Env, "development")
	setDefault(&c.Host, "0.0.0.0")
	if c.Port == 0 {
		c.Port = 8000
	}

	setDefault(&c.DBDriver, DriverSQLite)
	setDefault(&c.SQLitePath, "zchat.db")
	setDefault(&c.PostgresHost, "localhost")
	setDefault(&c.PostgresPort, "5432")
	setDefault(&c.PostgresUser, "postgres")
	setDefault(&c.PostgresPassword, "postgres")
	setDefault(&c.PostgresDB, "zchat")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%s", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	c.DatabaseURL = u.String()

	if c.AccessTokenMinutes == 0 {
		c.AccessTokenMinutes = 60 * 24
	}
	if c.MaxMessagesPerConversation == 0 {
		c.MaxMessagesPerConversation = 1000
	}

	c.CORSOrigins = trimAll(c.CORSOrigins)
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	c.LegacyEncryptKeys = trimAll(c.LegacyEncryptKeys)

	setDefault(&c.LogLevel, "info")

	w := &c.WS
	if w.SendBuffer == 0 {
		w.SendBuffer = 64
	}
	if w.WriteWait == 0 {
		w.WriteWait = 10 * time.Second
	}
	if w.PongWait == 0 {
		w.PongWait = 60 * time.Second
	}
	if w.PingPeriod == 0 {
		w.PingPeriod = w.PongWait * 9 / 10
	}
	if w.MaxMessageBytes == 0 {
		w.MaxMessageBytes = 64 << 10
	}
	if w.MaxDecodeErrors == 0 {
		w.MaxDecodeErrors = 10
	}
	if w.PersistTimeout == 0 {
		w.PersistTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.EncryptKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)", c.WS.PingPeriod, c.WS.PongWait)
	}
	if c.WS.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func setDefault(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
