package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "connector", "telegram":
		return connectorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const connectorTemplate = `connector_id = "telegram-1"
cortex_url = "http://cortex-m:8080/api/cortex-m/v1"
reply_timeout = "180s"
admin_listen_addr = "127.0.0.1:7030"
admin_cors_origins = ["http://localhost:3000"]

[telegram]
# Prefer TELEGRAM_TOKEN in the environment.
token = ""
# User ids or usernames. Empty answers everyone.
allowlist = []
poll_timeout = 30

[session]
security_mode = "development"
connect_timeout = "10s"
handshake_timeout = "10s"
write_timeout = "15s"
tls_ca_file = ""
tls_cert_file = ""
tls_key_file = ""
tls_server_name = ""
tls_insecure_skip_verify = false

[backoff]
initial = "2s"
multiplier = 2.0
max = "60s"
jitter = false

[log]
level = "info"
file = ""
max_size_mb = 50
max_backups = 3
max_age_days = 14
compress = true
no_color = false
`
