package cortex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/connectorctl/internal/protocol/session"
)

var (
	ErrBaseURLRequired = errors.New("cortex: base url required")
	ErrEmptySessionID  = errors.New("cortex: empty session id")
	ErrSessionStatus   = errors.New("cortex: unexpected session status")
)

const maxSessionBody = 4 * 1024

// SessionClient fetches connector session ids over HTTP.
type SessionClient struct {
	baseURL string
	http    *http.Client
}

func NewSessionClient(baseURL string, client *http.Client) (*SessionClient, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SessionClient{baseURL: base, http: client}, nil
}

// NewHTTPClient returns a client that trusts the same CA and presents the same
// client certificate as the WebSocket dialer.
func NewHTTPClient(cfg session.Config) (*http.Client, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := clientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{Timeout: cfg.ConnectTimeout, Transport: transport}, nil
}

// FetchSessionID calls GET {base}/connector and returns the trimmed body.
func (c *SessionClient) FetchSessionID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/connector", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSessionBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrSessionStatus, resp.Status)
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", ErrEmptySessionID
	}
	return id, nil
}
