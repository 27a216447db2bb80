// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/internal/logging"
	"github.com/hilsha/gatehouse/internal/notify"
	"github.com/hilsha/gatehouse/internal/ratelimit"
	"github.com/hilsha/gatehouse/internal/xdg"
)

// EnvPrefix namespaces configuration environment variables. Nested keys use
// a double underscore: GATEHOUSE_HTTP__ADDR sets http.addr.
const EnvPrefix = "GATEHOUSE_"

const redacted = "********"

// Config is the effective service configuration.
type Config struct {
	Database      DatabaseConfig      `koanf:"database"`
	HTTP          HTTPConfig          `koanf:"http"`
	Auth          AuthConfig          `koanf:"auth"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
	Mail          MailConfig          `koanf:"mail"`
	Sweep         SweepConfig         `koanf:"sweep"`
	Observability ObservabilityConfig `koanf:"observability"`
	Log           LogConfig           `koanf:"log"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MaxConns    int32  `koanf:"max_conns"`
	MinConns    int32  `koanf:"min_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	PublicURL       string        `koanf:"public_url"`
	FrontendURL     string        `koanf:"frontend_url"`
	TrustedOrigins  []string      `koanf:"trusted_origins"`
	CookiePrefix    string        `koanf:"cookie_prefix"`
	SecureCookies   bool          `koanf:"secure_cookies"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AuthConfig configures account behavior.
type AuthConfig struct {
	SessionTTL                  time.Duration `koanf:"session_ttl"`
	SessionRenewAfter           time.Duration `koanf:"session_renew_after"`
	ResetTokenTTL               time.Duration `koanf:"reset_token_ttl"`
	VerificationTokenTTL        time.Duration `koanf:"verification_token_ttl"`
	RequireEmailVerification    bool          `koanf:"require_email_verification"`
	AutoSignInAfterVerification bool          `koanf:"auto_sign_in_after_verification"`
	RevokeSessionsOnReset       bool          `koanf:"revoke_sessions_on_reset"`
	LockoutThreshold            int           `koanf:"lockout_threshold"`
	LockoutDuration             time.Duration `koanf:"lockout_duration"`
	EnumerationFloor            time.Duration `koanf:"enumeration_floor"`
}

// RateLimitConfig selects the counter store and overrides class limits.
type RateLimitConfig struct {
	Store    string                     `koanf:"store"`
	RedisURL string                     `koanf:"redis_url"`
	Classes  map[string]RateClassConfig `koanf:"classes"`
}

// RateClassConfig overrides one class. Zero fields keep the defaults.
type RateClassConfig struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

// MailConfig configures notification delivery.
type MailConfig struct {
	AppName       string            `koanf:"app_name"`
	Queue         string            `koanf:"queue"`
	Workers       int               `koanf:"workers"`
	BufferSize    int               `koanf:"buffer_size"`
	RatePerSecond float64           `koanf:"rate_per_second"`
	Burst         int               `koanf:"burst"`
	RedisURL      string            `koanf:"redis_url"`
	MaxRetry      int               `koanf:"max_retry"`
	SMTP          notify.SMTPConfig `koanf:"smtp"`
}

// SweepConfig configures the expired-record sweeper.
type SweepConfig struct {
	Interval       time.Duration `koanf:"interval"`
	TokenRetention time.Duration `koanf:"token_retention"`
}

// ObservabilityConfig configures the metrics and health listener. An empty
// address disables it.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Storage and queue backends.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendAsynq  = "asynq"
)

// defaults is the lowest configuration layer.
func defaults() map[string]any {
	d := auth.DefaultConfig()
	return map[string]any{
		"database.max_conns":    10,
		"database.min_conns":    0,
		"database.auto_migrate": false,

		"http.addr":             ":5000",
		"http.public_url":       d.PublicURL,
		"http.frontend_url":     d.FrontendURL,
		"http.trusted_origins":  []string{},
		"http.cookie_prefix":    "gatehouse",
		"http.secure_cookies":   false,
		"http.trust_proxy":      false,
		"http.max_body_bytes":   64 << 10,
		"http.shutdown_timeout": "10s",

		"auth.session_ttl":                     auth.DefaultSessionTTL.String(),
		"auth.session_renew_after":             auth.DefaultSessionRenewAfter.String(),
		"auth.reset_token_ttl":                 d.ResetTokenTTL.String(),
		"auth.verification_token_ttl":          d.VerificationTokenTTL.String(),
		"auth.require_email_verification":      d.RequireEmailVerification,
		"auth.auto_sign_in_after_verification": d.AutoSignInAfterVerification,
		"auth.revoke_sessions_on_reset":        d.RevokeSessionsOnReset,
		"auth.lockout_threshold":               d.Lockout.Threshold,
		"auth.lockout_duration":                d.Lockout.Duration.String(),
		"auth.enumeration_floor":               d.EnumerationFloor.String(),

		"ratelimit.store": backendMemory,

		"mail.app_name":        notify.DefaultAppName,
		"mail.queue":           backendMemory,
		"mail.workers":         2,
		"mail.buffer_size":     256,
		"mail.rate_per_second": 0,
		"mail.burst":           1,
		"mail.max_retry":       5,
		"mail.smtp.port":       587,
		"mail.smtp.tls":        notify.TLSModeStartTLS,
		"mail.smtp.timeout":    "15s",
		"mail.smtp.attempts":   3,

		"sweep.interval":        "1h",
		"sweep.token_retention": "168h",

		"observability.addr": "127.0.0.1:9100",

		"log.level":  "info",
		"log.format": "json",
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"database-url": "database.url",
	"http-addr":    "http.addr",
	"metrics-addr": "observability.addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// envKey turns GATEHOUSE_HTTP__TRUSTED_ORIGINS into http.trusted_origins.
func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

// loadConfig layers defaults, the config file, GATEHOUSE_* variables and
// changed flags, in increasing precedence. path overrides file discovery.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, *koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("layer", "defaults").Wrap(err)
	}

	if path == "" {
		found, exists, err := xdg.ConfigFile()
		if err != nil {
			return nil, nil, oops.Code("CONFIG_INVALID").With("path", found).Wrap(err)
		}
		if exists {
			path = found
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, nil, oops.Code("CONFIG_INVALID").With("layer", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("layer", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, nil, oops.Code("CONFIG_INVALID").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
		if cfg.Database.URL != "" {
			_ = k.Set("database.url", cfg.Database.URL)
		}
	}
	return &cfg, k, nil
}

// Validate checks that the configuration can start a server.
func (cfg *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if cfg.Database.URL == "" {
		return invalid("database.url", "database.url or DATABASE_URL is required")
	}
	if cfg.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	for key, raw := range map[string]string{"http.public_url": cfg.HTTP.PublicURL, "http.frontend_url": cfg.HTTP.FrontendURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid(key, "%s must be an absolute http(s) URL, got %q", key, raw)
		}
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", cfg.Log.Format)
	}
	if cfg.Auth.SessionTTL <= 0 {
		return invalid("auth.session_ttl", "auth.session_ttl must be positive")
	}
	if cfg.Auth.LockoutThreshold < 0 {
		return invalid("auth.lockout_threshold", "auth.lockout_threshold must not be negative")
	}

	switch cfg.RateLimit.Store {
	case backendMemory:
	case backendRedis:
		if cfg.RateLimit.RedisURL == "" {
			return invalid("ratelimit.redis_url", "ratelimit.redis_url is required for the redis store")
		}
	default:
		return invalid("ratelimit.store", "ratelimit.store must be 'memory' or 'redis', got %q", cfg.RateLimit.Store)
	}
	if _, err := cfg.rateClasses(); err != nil {
		return err
	}

	switch cfg.Mail.Queue {
	case backendMemory:
	case backendAsynq:
		if cfg.Mail.RedisURL == "" {
			return invalid("mail.redis_url", "mail.redis_url is required for the asynq queue")
		}
	default:
		return invalid("mail.queue", "mail.queue must be 'memory' or 'asynq', got %q", cfg.Mail.Queue)
	}
	return nil
}

// rateClasses applies configured overrides to the default classes.
func (cfg *Config) rateClasses() (map[string]ratelimit.Class, error) {
	classes := ratelimit.DefaultClasses()
	for name, override := range cfg.RateLimit.Classes {
		c, ok := classes[name]
		if !ok {
			return nil, oops.Code("CONFIG_INVALID").
				With("key", "ratelimit.classes."+name).
				Errorf("unknown rate limit class %q", name)
		}
		if override.Limit > 0 {
			c.Limit = override.Limit
		}
		if override.Window > 0 {
			c.Window = override.Window
		}
		classes[name] = c
	}
	return classes, nil
}

// authConfig builds the orchestration settings.
func (cfg *Config) authConfig() auth.Config {
	return auth.Config{
		PublicURL:                   cfg.HTTP.PublicURL,
		FrontendURL:                 cfg.HTTP.FrontendURL,
		ResetTokenTTL:               cfg.Auth.ResetTokenTTL,
		VerificationTokenTTL:        cfg.Auth.VerificationTokenTTL,
		Lockout:                     auth.LockoutPolicy{Threshold: cfg.Auth.LockoutThreshold, Duration: cfg.Auth.LockoutDuration},
		EnumerationFloor:            cfg.Auth.EnumerationFloor,
		RequireEmailVerification:    cfg.Auth.RequireEmailVerification,
		RevokeSessionsOnReset:       cfg.Auth.RevokeSessionsOnReset,
		AutoSignInAfterVerification: cfg.Auth.AutoSignInAfterVerification,
	}
}

// trustedOrigins is the frontend origin plus any configured patterns.
func (cfg *Config) trustedOrigins() []string {
	return append([]string{strings.TrimRight(cfg.HTTP.FrontendURL, "/")}, cfg.HTTP.TrustedOrigins...)
}

// redactedYAML renders the effective configuration with secrets masked.
func redactedYAML(k *koanf.Koanf) ([]byte, error) {
	out := k.Copy()
	for _, key := range []string{"database.url", "ratelimit.redis_url", "mail.redis_url"} {
		if raw := out.String(key); raw != "" {
			_ = out.Set(key, redactURL(raw))
		}
	}
	if out.String("mail.smtp.password") != "" {
		_ = out.Set("mail.smtp.password", redacted)
	}
	data, err := out.Marshal(yaml.Parser())
	if err != nil {
		return nil, oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
	}
	return data, nil
}

// redactURL masks the password of a connection URL. Unparseable values are
// masked entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	return u.Redacted()
}
