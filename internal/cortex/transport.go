package cortex

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/connectorctl/internal/connector"
	"github.com/danmuck/connectorctl/internal/protocol/session"
	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("cortex: connection closed")

// WebSocketURL maps an http(s) base URL to ws(s)://.../connector/{sessionID}.
func WebSocketURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("cortex: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/connector/" + url.PathEscape(sessionID)
	return u.String(), nil
}

// WebSocketTransport dials Cortex-M connector sessions.
type WebSocketTransport struct {
	baseURL string
	cfg     session.Config
	dialer  *websocket.Dialer
}

func NewWebSocketTransport(baseURL string, cfg session.Config) (*WebSocketTransport, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrBaseURLRequired
	}
	if err := cfg.ValidateClientTransport(baseURL); err != nil {
		return nil, err
	}
	tlsCfg, err := clientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	return &WebSocketTransport{
		baseURL: baseURL,
		cfg:     cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  tlsCfg,
		},
	}, nil
}

// Connect opens the duplex stream for sessionID.
func (t *WebSocketTransport) Connect(ctx context.Context, sessionID string) (connector.Conn, error) {
	target, err := WebSocketURL(t.baseURL, sessionID)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	ws, resp, err := t.dialer.DialContext(dialCtx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status: %s)", target, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &wsConn{ws: ws, writeTimeout: t.cfg.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Receive blocks for the next data frame; Close unblocks it.
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connector closing"),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func clientTLSConfig(cfg session.TLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(cfg.ServerName),
	}
	if caPath := strings.TrimSpace(cfg.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("cortex: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}
	if strings.TrimSpace(cfg.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
