package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/connectorctl/internal/bridge"
	"github.com/danmuck/connectorctl/internal/config"
	"github.com/danmuck/connectorctl/internal/logging"
	"github.com/danmuck/connectorctl/internal/protocol/session"
)

// Environment variables shared with existing connector deployments.
const (
	envCortexURL     = "CORTEX_M_URL"
	envTelegramToken = "TELEGRAM_TOKEN"
	envConnectorID   = "CONNECTOR_ID"
	envAllowList     = "TELEGRAM_ALLOWLIST"
	envReplyTimeout  = "CORTEX_M_TIMEOUT"
)

type lookupFunc func(string) (string, bool)

func loadServiceConfig(path string, lookup lookupFunc) (bridge.ServiceConfig, logging.Config, error) {
	cfg := bridge.DefaultServiceConfig()
	logCfg := logging.DefaultConfig(logging.ProfileRuntime)

	if strings.TrimSpace(path) != "" {
		if err := applyFile(path, &cfg, &logCfg); err != nil {
			return bridge.ServiceConfig{}, logging.Config{}, err
		}
	}
	if err := applyEnv(lookup, &cfg); err != nil {
		return bridge.ServiceConfig{}, logging.Config{}, err
	}
	return cfg, logCfg, nil
}

func applyFile(path string, cfg *bridge.ServiceConfig, logCfg *logging.Config) error {
	var raw config.ConnectorConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load connector config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("load connector config: %w: unknown keys %s", config.ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := config.ValidateConnectorConfig(raw); err != nil {
		return err
	}

	if meta.IsDefined("connector_id") {
		if id := strings.TrimSpace(raw.ConnectorID); id != "" {
			cfg.ConnectorID = id
		}
	}
	if meta.IsDefined("cortex_url") {
		cfg.CortexURL = strings.TrimSpace(raw.CortexURL)
	}
	if meta.IsDefined("reply_timeout") {
		if d, ok, _ := config.Duration("reply_timeout", raw.ReplyTimeout); ok {
			cfg.Session.ReplyTimeout = d
		}
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}

	if meta.IsDefined("telegram", "token") {
		cfg.Telegram.Token = strings.TrimSpace(raw.Telegram.Token)
	}
	if meta.IsDefined("telegram", "allowlist") {
		cfg.Telegram.AllowList = normalizeList(raw.Telegram.AllowList)
	}
	if meta.IsDefined("telegram", "poll_timeout") {
		cfg.Telegram.PollTimeout = raw.Telegram.PollTimeout
	}

	if meta.IsDefined("session", "security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.Session.SecurityMode))
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"handshake_timeout", raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		if v, ok, _ := config.Duration("session."+d.key, d.raw); ok {
			*d.dst = v
		}
	}
	if meta.IsDefined("session", "tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.Session.TLSCAFile)
	}
	if meta.IsDefined("session", "tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.Session.TLSCertFile)
	}
	if meta.IsDefined("session", "tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.Session.TLSKeyFile)
	}
	if meta.IsDefined("session", "tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.Session.TLSServerName)
	}
	if meta.IsDefined("session", "tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.Session.TLSInsecureSkipVerify
	}

	if meta.IsDefined("backoff", "initial") {
		if d, ok, _ := config.Duration("backoff.initial", raw.Backoff.Initial); ok {
			cfg.Session.Backoff.InitialDelay = d
		}
	}
	if meta.IsDefined("backoff", "max") {
		if d, ok, _ := config.Duration("backoff.max", raw.Backoff.Max); ok {
			cfg.Session.Backoff.MaxDelay = d
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("log", "level") {
		if lvl, ok := logging.ParseLevel(raw.Log.Level); ok {
			logCfg.Level = lvl
		}
	}
	if meta.IsDefined("log", "no_color") {
		logCfg.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("log", "file") {
		logCfg.File = logging.FileConfig{
			Path:       strings.TrimSpace(raw.Log.File),
			MaxSizeMB:  raw.Log.MaxSizeMB,
			MaxBackups: raw.Log.MaxBackups,
			MaxAgeDays: raw.Log.MaxAgeDays,
			Compress:   raw.Log.Compress,
		}
	}
	return nil
}

// applyEnv lets the environment override the file.
func applyEnv(lookup lookupFunc, cfg *bridge.ServiceConfig) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(envCortexURL); ok && strings.TrimSpace(v) != "" {
		cfg.CortexURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(envConnectorID); ok && strings.TrimSpace(v) != "" {
		cfg.ConnectorID = strings.TrimSpace(v)
	}
	if v, ok := lookup(envAllowList); ok {
		cfg.Telegram.AllowList = normalizeList(strings.Split(v, ","))
	}
	if v, ok := lookup(envReplyTimeout); ok && strings.TrimSpace(v) != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || secs <= 0 {
			return fmt.Errorf("parse %s: %q is not a positive number of seconds", envReplyTimeout, v)
		}
		cfg.Session.ReplyTimeout = time.Duration(secs) * time.Second
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		v := strings.TrimSpace(entry)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
