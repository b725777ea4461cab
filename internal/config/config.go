package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"stampy/internal/logging"
)

// Keys of the persisted config table. Names match databases written by
// earlier releases.
const (
	KeyToken     = "token"
	KeyDatabase  = "database"
	KeyVerbosity = "verbosity"
	KeyURL       = "url"
	KeyOwner     = "owner"
	KeyDaemon    = "daemon"
	KeySleep     = "sleep"
)

const (
	DefaultDatabase = "stampy.db"
	DefaultURL      = "https://api.telegram.org/bot"
	DefaultSleep    = 10 // seconds between daemon cycles
	DefaultOwner    = "iranzo"
)

// Options are the startup values from flags, environment and config file.
// They only seed the persisted store; the store wins once a key exists.
type Options struct {
	Token     string `mapstructure:"token"`
	Database  string `mapstructure:"database"`
	Verbosity string `mapstructure:"verbosity"`
	URL       string `mapstructure:"url"`
	Owner     string `mapstructure:"owner"`
	Daemon    bool   `mapstructure:"daemon"`

	Plugins     string `mapstructure:"plugins"`      // YAML plugin manifest
	LogFile     string `mapstructure:"log_file"`     // optional extra log sink
	MetricsAddr string `mapstructure:"metrics_addr"` // e.g. ":9100", empty = off
}

// Defaults returns the options used when nothing else is given.
func Defaults() Options {
	return Options{
		Database: DefaultDatabase,
		URL:      DefaultURL,
		Owner:    DefaultOwner,
	}
}

// Validate checks that the options have valid values.
func Validate(opts Options) error {
	var errs []string

	if strings.TrimSpace(opts.Database) == "" {
		errs = append(errs, "database must not be empty")
	}
	if opts.Verbosity != "" && !slices.Contains(logging.Verbosities, strings.ToLower(opts.Verbosity)) {
		errs = append(errs, fmt.Sprintf("verbosity must be one of: %s", strings.Join(logging.Verbosities, ", ")))
	}
	if opts.URL != "" && !strings.HasPrefix(opts.URL, "http://") && !strings.HasPrefix(opts.URL, "https://") {
		errs = append(errs, "url must start with http:// or https://")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogName derives the logger name from the database file, so several bots
// can share a host: "/var/lib/karma.db" -> "karma".
func LogName(database string) string {
	base := filepath.Base(database)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		return "stampy"
	}
	return base
}

// Mask hides all but the first and last four characters of a secret.
func Mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Sanitize returns value with secrets masked for display.
func Sanitize(key, value string) string {
	if key == KeyToken && value != "" {
		return Mask(value)
	}
	return value
}
