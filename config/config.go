/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One Config value feeds cmd/server and cmd/reservectl. Values come from,
  in increasing precedence:
  1. Defaults (Default())
  2. A .env file in the working directory, if present (godotenv)
  3. Process environment variables
  4. Command-line flags (applied by the commands themselves)

VARIABLES:
  PORT                 HTTP port (8080)
  DB_PATH              SQLite path, ":memory:" allowed (campus.db)
  JWT_SECRET           HMAC secret for bearer tokens (required by the server)
  SWEEP_INTERVAL       Reconciliation interval, Go duration (1m)
  SERIES_HORIZON_DAYS  How far ahead series are materialized (14)
  AMQP_URL             RabbitMQ URL; empty disables publishing
  AMQP_EXCHANGE        Topic exchange name (reservations)
  REDIS_ADDR           Redis host:port; empty disables the Redis QR resolver
  REDIS_PASSWORD       Redis password
  REDIS_DB             Redis database number (0)
  LOG_LEVEL            debug | info | warn | error (info)
  TIMEZONE             Campus IANA zone used by the CLI for dates (UTC)
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	DBPath        string
	JWTSecret     string
	SweepInterval time.Duration
	SeriesHorizon time.Duration
	AMQPURL       string
	AMQPExchange  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LogLevel      slog.Level
	Timezone      string
}

func Default() Config {
	return Config{
		Port:          8080,
		DBPath:        "campus.db",
		SweepInterval: time.Minute,
		SeriesHorizon: 14 * 24 * time.Hour,
		AMQPExchange:  "reservations",
		LogLevel:      slog.LevelInfo,
		Timezone:      "UTC",
	}
}

// Load reads the given .env files (".env" when none are named) and then
// the environment. Missing .env files are not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv overlays environment variables on Default().
func FromEnv() (Config, error) {
	c := Default()
	var errs []error
	c.Port = getInt("PORT", c.Port, &errs)
	c.DBPath = getenv("DB_PATH", c.DBPath)
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)
	c.SweepInterval = getDuration("SWEEP_INTERVAL", c.SweepInterval, &errs)
	if days := getInt("SERIES_HORIZON_DAYS", 0, &errs); days > 0 {
		c.SeriesHorizon = time.Duration(days) * 24 * time.Hour
	}
	c.AMQPURL = getenv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getenv("AMQP_EXCHANGE", c.AMQPExchange)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getInt("REDIS_DB", c.RedisDB, &errs)
	if v := getenv("LOG_LEVEL", ""); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	c.Timezone = getenv("TIMEZONE", c.Timezone)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH: required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL: must be positive, got %s", c.SweepInterval)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// Location is the campus timezone; Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Logger returns a JSON slog logger at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid int %q", key, v))
		return def
	}
	return n
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
