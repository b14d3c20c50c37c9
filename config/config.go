// Package config reads runtime settings from the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full set of settings for quotectl and quotestub.
type Config struct {
	APIURL         string        `validate:"required,url"`
	PageSize       int           `validate:"gte=1,lte=100"`
	StaleAfter     time.Duration `validate:"gte=0"`
	HTTPTimeout    time.Duration `validate:"gt=0"`
	SessionBackend string        `validate:"oneof=memory sqlite postgres redis"`
	SQLitePath     string        `validate:"required_if=SessionBackend sqlite"`
	DatabaseURL    string        `validate:"required_if=SessionBackend postgres"`
	RedisURL       string        `validate:"required_if=SessionBackend redis"`
	LogLevel       string        `validate:"oneof=panic fatal error warn warning info debug trace"`
	LogFormat      string        `validate:"oneof=json text"`
	StubAddr       string        `validate:"required"`
	StubSeed       string
}

func Defaults() Config {
	return Config{
		APIURL:         "http://localhost:3001",
		PageSize:       10,
		StaleAfter:     30 * time.Second,
		HTTPTimeout:    15 * time.Second,
		SessionBackend: BackendSQLite,
		SQLitePath:     "quoteflow.db",
		LogLevel:       "info",
		LogFormat:      "json",
		StubAddr:       ":3001",
	}
}

// Load reads the given .env files (".env" when none are named; missing files
// are skipped) into the process environment without overriding variables that
// are already set, then builds and validates the config.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("QUOTEFLOW_API_URL", &cfg.APIURL)
	num("QUOTEFLOW_PAGE_SIZE", &cfg.PageSize)
	dur("QUOTEFLOW_STALE_AFTER", &cfg.StaleAfter)
	dur("QUOTEFLOW_HTTP_TIMEOUT", &cfg.HTTPTimeout)
	str("QUOTEFLOW_SESSION_BACKEND", &cfg.SessionBackend)
	str("QUOTEFLOW_SQLITE_PATH", &cfg.SQLitePath)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("QUOTEFLOW_LOG_LEVEL", &cfg.LogLevel)
	str("QUOTEFLOW_LOG_FORMAT", &cfg.LogFormat)
	str("QUOTEFLOW_STUB_ADDR", &cfg.StubAddr)
	str("QUOTEFLOW_STUB_SEED", &cfg.StubSeed)

	cfg.SessionBackend = strings.ToLower(cfg.SessionBackend)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("config: validate: %w", err)
	}
	return nil
}
