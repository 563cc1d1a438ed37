package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/connectorctl/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

// ConnectorConfig is the on-disk shape of a connector config file.
type ConnectorConfig struct {
	ConnectorID      string         `toml:"connector_id"`
	CortexURL        string         `toml:"cortex_url"`
	ReplyTimeout     string         `toml:"reply_timeout"`
	AdminListenAddr  string         `toml:"admin_listen_addr"`
	AdminCORSOrigins []string       `toml:"admin_cors_origins"`
	Telegram         TelegramConfig `toml:"telegram"`
	Session          SessionConfig  `toml:"session"`
	Backoff          BackoffConfig  `toml:"backoff"`
	Log              LogConfig      `toml:"log"`
}

type TelegramConfig struct {
	Token       string   `toml:"token"`
	AllowList   []string `toml:"allowlist"`
	PollTimeout int      `toml:"poll_timeout"`
}

type SessionConfig struct {
	SecurityMode          string `toml:"security_mode"`
	ConnectTimeout        string `toml:"connect_timeout"`
	HandshakeTimeout      string `toml:"handshake_timeout"`
	WriteTimeout          string `toml:"write_timeout"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSCertFile           string `toml:"tls_cert_file"`
	TLSKeyFile            string `toml:"tls_key_file"`
	TLSServerName         string `toml:"tls_server_name"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
}

type BackoffConfig struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	NoColor    bool   `toml:"no_color"`
}

var ErrInvalidConfig = errors.New("config: invalid connector config")

// LoadConnectorConfig strictly decodes path; unknown keys are rejected.
func LoadConnectorConfig(path string) (ConnectorConfig, error) {
	var cfg ConnectorConfig
	if err := loadToml(path, &cfg); err != nil {
		return ConnectorConfig{}, err
	}
	if strings.TrimSpace(cfg.ConnectorID) == "" {
		cfg.ConnectorID = "telegram-1"
	}
	if err := ValidateConnectorConfig(cfg); err != nil {
		return ConnectorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %w\n%s", path, ErrInvalidConfig, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateConnectorConfig(cfg ConnectorConfig) error {
	if raw := strings.TrimSpace(cfg.CortexURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: cortex_url must be an http(s) url: %q", ErrInvalidConfig, raw)
		}
	}
	durations := map[string]string{
		"reply_timeout":             cfg.ReplyTimeout,
		"session.connect_timeout":   cfg.Session.ConnectTimeout,
		"session.handshake_timeout": cfg.Session.HandshakeTimeout,
		"session.write_timeout":     cfg.Session.WriteTimeout,
		"backoff.initial":           cfg.Backoff.Initial,
		"backoff.max":               cfg.Backoff.Max,
	}
	for name, raw := range durations {
		if _, _, err := Duration(name, raw); err != nil {
			return err
		}
	}
	if cfg.Backoff.Multiplier != 0 && cfg.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff.multiplier must be >= 1", ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Session.SecurityMode)) {
	case "", "development", "production":
	default:
		return fmt.Errorf("%w: session.security_mode %q", ErrInvalidConfig, cfg.Session.SecurityMode)
	}
	if cfg.Telegram.PollTimeout < 0 {
		return fmt.Errorf("%w: telegram.poll_timeout must be >= 0", ErrInvalidConfig)
	}
	if lvl := strings.TrimSpace(cfg.Log.Level); lvl != "" {
		if _, ok := logging.ParseLevel(lvl); !ok {
			return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, cfg.Log.Level)
		}
	}
	return nil
}

// Duration parses raw as a Go duration or a bare number of seconds.
// An empty value reports ok=false.
func Duration(name, raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, numErr := strconv.ParseFloat(raw, 64)
		if numErr != nil {
			return 0, false, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, name, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
	}
	return d, true, nil
}
