package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
	ErrInvalidBaseURL          = errors.New("session: invalid backend base url")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateClientTransport checks the backend base URL against the security mode.
// Production requires https (and therefore wss) without skipping verification.
func (c Config) ValidateClientTransport(baseURL string) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	if mode == SecurityModeProduction {
		if u.Scheme != "https" {
			return ErrTLSRequired
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	certSet := strings.TrimSpace(c.TLS.CertFile) != ""
	keySet := strings.TrimSpace(c.TLS.KeyFile) != ""
	if certSet && !keySet {
		return ErrTLSKeyFileRequired
	}
	if keySet && !certSet {
		return ErrTLSCertFileRequired
	}
	return nil
}
