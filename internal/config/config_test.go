package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/connectorctl/internal/testutil/testlog"
)

func TestTemplateRoundTripsThroughLoader(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, "connector", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadConnectorConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.ConnectorID != "telegram-1" || cfg.Telegram.PollTimeout != 30 || cfg.Backoff.Multiplier != 2.0 {
		t.Fatalf("unexpected template values: %+v", cfg)
	}
	if err := WriteTemplate(path, "connector", false); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
	if err := WriteTemplate(path, "connector", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestLoadConnectorConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("cortex_url = \"http://x:1\"\nreply_timout = \"10s\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := LoadConnectorConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "reply_timout") {
		t.Fatalf("error should name the unknown key: %v", err)
	}
}

func TestValidateConnectorConfig(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		cfg  ConnectorConfig
	}{
		{"scheme", ConnectorConfig{CortexURL: "ftp://cortex"}},
		{"duration", ConnectorConfig{ReplyTimeout: "soon"}},
		{"negative", ConnectorConfig{Backoff: BackoffConfig{Initial: "-2s"}}},
		{"multiplier", ConnectorConfig{Backoff: BackoffConfig{Multiplier: 0.5}}},
		{"mode", ConnectorConfig{Session: SessionConfig{SecurityMode: "strict"}}},
		{"level", ConnectorConfig{Log: LogConfig{Level: "loud"}}},
	}
	for _, tc := range cases {
		if err := ValidateConnectorConfig(tc.cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
	if err := ValidateConnectorConfig(ConnectorConfig{}); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	testlog.Start(t)
	d, ok, err := Duration("reply_timeout", "180")
	if err != nil || !ok || d != 180*time.Second {
		t.Fatalf("unexpected parse: %v %v %v", d, ok, err)
	}
	d, ok, err = Duration("reply_timeout", "1m30s")
	if err != nil || !ok || d != 90*time.Second {
		t.Fatalf("unexpected parse: %v %v %v", d, ok, err)
	}
	if _, ok, err := Duration("reply_timeout", " "); ok || err != nil {
		t.Fatalf("empty value should be unset")
	}
}
