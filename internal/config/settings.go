package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"stampy/internal/domain"
	"stampy/internal/logging"
)

// ErrMissingToken is returned by Seed when neither the store nor the
// options provide a bot token.
var ErrMissingToken = errors.New("token required for operation, please check https://core.telegram.org/bots")

// Settings is the typed view over the persisted config table shared by
// every component. Booleans are written as "1"/"0" and read leniently so
// rows written as "True"/"False" by older releases keep working.
type Settings struct {
	store  domain.ConfigStore
	logger *slog.Logger
}

func NewSettings(store domain.ConfigStore, logger *slog.Logger) *Settings {
	return &Settings{store: store, logger: logger}
}

// String returns the stored value, or "" when absent or unreadable.
func (s *Settings) String(ctx context.Context, key string) string {
	value, _, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cannot read config", "key", key, "err", err)
		return ""
	}
	return value
}

// Bool returns the stored flag; absent or malformed values read as false.
func (s *Settings) Bool(ctx context.Context, key string) bool {
	raw := strings.TrimSpace(s.String(ctx, key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("config value is not a boolean", "key", key, "value", raw)
		return false
	}
	return v
}

// Int returns the stored integer, or def when absent or malformed.
func (s *Settings) Int(ctx context.Context, key string, def int) int {
	raw := strings.TrimSpace(s.String(ctx, key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("config value is not an integer", "key", key, "value", raw)
		return def
	}
	return v
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}

func (s *Settings) SetBool(ctx context.Context, key string, v bool) error {
	value := "0"
	if v {
		value = "1"
	}
	return s.store.Set(ctx, key, value)
}

func (s *Settings) SetInt(ctx context.Context, key string, v int) error {
	return s.store.Set(ctx, key, strconv.Itoa(v))
}

func (s *Settings) has(ctx context.Context, key string) bool {
	value, ok, err := s.store.Get(ctx, key)
	return err == nil && ok && value != ""
}

func (s *Settings) Token(ctx context.Context) string     { return s.String(ctx, KeyToken) }
func (s *Settings) URL(ctx context.Context) string       { return s.String(ctx, KeyURL) }
func (s *Settings) Owner(ctx context.Context) string     { return s.String(ctx, KeyOwner) }
func (s *Settings) Verbosity(ctx context.Context) string { return s.String(ctx, KeyVerbosity) }
func (s *Settings) Daemon(ctx context.Context) bool      { return s.Bool(ctx, KeyDaemon) }

func (s *Settings) SetDaemon(ctx context.Context, v bool) error {
	return s.SetBool(ctx, KeyDaemon, v)
}

// SleepInterval is the pause between daemon cycles.
func (s *Settings) SleepInterval(ctx context.Context) time.Duration {
	secs := s.Int(ctx, KeySleep, DefaultSleep)
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// IsOwner reports whether username is the configured owner. An empty owner
// matches nobody.
func (s *Settings) IsOwner(ctx context.Context, username string) bool {
	owner := s.Owner(ctx)
	return owner != "" && owner == username
}

// Seed writes startup options into the store where keys are still absent.
// The database location is always refreshed and --daemon always turns the
// persisted flag on. It fails with ErrMissingToken when no token is known.
func (s *Settings) Seed(ctx context.Context, opts Options) error {
	if opts.Database != "" {
		if err := s.Set(ctx, KeyDatabase, opts.Database); err != nil {
			return fmt.Errorf("seed database: %w", err)
		}
	}

	if !s.has(ctx, KeyVerbosity) {
		verbosity := strings.ToLower(opts.Verbosity)
		if verbosity == "" {
			verbosity = "debug"
		}
		if err := s.Set(ctx, KeyVerbosity, verbosity); err != nil {
			return fmt.Errorf("seed verbosity: %w", err)
		}
	}

	if !s.has(ctx, KeySleep) {
		if err := s.SetInt(ctx, KeySleep, DefaultSleep); err != nil {
			return fmt.Errorf("seed sleep: %w", err)
		}
	}

	if !s.has(ctx, KeyToken) {
		if opts.Token == "" {
			logging.Critical(ctx, s.logger, ErrMissingToken.Error())
			return ErrMissingToken
		}
		if err := s.Set(ctx, KeyToken, opts.Token); err != nil {
			return fmt.Errorf("seed token: %w", err)
		}
	}

	if !s.has(ctx, KeyURL) && opts.URL != "" {
		if err := s.Set(ctx, KeyURL, opts.URL); err != nil {
			return fmt.Errorf("seed url: %w", err)
		}
	}

	if !s.has(ctx, KeyOwner) && opts.Owner != "" {
		if err := s.Set(ctx, KeyOwner, opts.Owner); err != nil {
			return fmt.Errorf("seed owner: %w", err)
		}
	}

	if opts.Daemon {
		if err := s.SetDaemon(ctx, true); err != nil {
			return fmt.Errorf("seed daemon: %w", err)
		}
	}
	return nil
}

// SyncLogLevel applies the persisted verbosity to level. Unknown values
// fall back to debug. The normalized name is written back when it differs
// from what was stored.
func (s *Settings) SyncLogLevel(ctx context.Context, level *slog.LevelVar) {
	stored := s.Verbosity(ctx)
	parsed, _ := logging.ParseLevel(stored)
	name := logging.LevelName(parsed)

	if level.Level() != parsed {
		level.Set(parsed)
		s.logger.Info("logging level set", "verbosity", name)
	} else {
		s.logger.Debug("log level didn't change", "verbosity", name)
	}
	if stored != name {
		_ = s.Set(ctx, KeyVerbosity, name)
	}
}
