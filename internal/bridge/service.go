package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/connectorctl/internal/connector"
	"github.com/danmuck/connectorctl/internal/cortex"
	"github.com/danmuck/connectorctl/internal/observability"
	"github.com/danmuck/connectorctl/internal/protocol/envelope"
	"github.com/danmuck/connectorctl/internal/protocol/session"
	"github.com/danmuck/connectorctl/internal/telegram"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCortexURLRequired     = errors.New("bridge: cortex url required")
	ErrTelegramTokenRequired = errors.New("bridge: telegram token required")
	ErrInvalidReplyTimeout   = errors.New("bridge: invalid reply timeout")
)

// ServiceConfig configures one connector process.
type ServiceConfig struct {
	ConnectorID      string
	CortexURL        string
	Session          session.Config
	Telegram         telegram.Config
	AdminListenAddr  string
	AdminCORSOrigins []string
}

// Connector service defaults for standalone runtime configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ConnectorID: "telegram-1",
		Session:     session.DefaultConfig(),
		Telegram:    telegram.Config{PollTimeout: 30},
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.CortexURL) == "" {
		return ErrCortexURLRequired
	}
	if c.Session.ReplyTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReplyTimeout, c.Session.ReplyTimeout)
	}
	if _, err := envelope.NewCodec(c.ConnectorID); err != nil {
		return err
	}
	return c.Session.ValidateClientTransport(c.CortexURL)
}

type Option func(*Service)

// WithBot skips Bot API authorization and uses bot directly.
func WithBot(bot telegram.Bot) Option {
	return func(s *Service) { s.bot = bot }
}

// WithHTTPClient sets the client used for session id requests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.httpClient = client }
}

// Service runs the connector lifecycle as a standalone process.
type Service struct {
	cfg        ServiceConfig
	bot        telegram.Bot
	httpClient *http.Client

	link    *connector.Link
	handler *connector.Handler
	source  *telegram.Source
	admin   *connector.AdminServer
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...Option) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	cfg.CortexURL = strings.TrimRight(strings.TrimSpace(cfg.CortexURL), "/")
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext builds every component and serves until ctx is cancelled.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) Link() *connector.Link { return s.link }

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	observability.RegisterMetrics()

	codec, err := envelope.NewCodec(s.cfg.ConnectorID)
	if err != nil {
		return err
	}
	if s.httpClient == nil {
		s.httpClient, err = cortex.NewHTTPClient(s.cfg.Session)
		if err != nil {
			return err
		}
	}
	sessions, err := cortex.NewSessionClient(s.cfg.CortexURL, s.httpClient)
	if err != nil {
		return err
	}
	transport, err := cortex.NewWebSocketTransport(s.cfg.CortexURL, s.cfg.Session)
	if err != nil {
		return err
	}

	pending := session.NewPendingTable()
	queue := session.NewSendQueue()
	s.link, err = connector.NewLink(connector.LinkConfig{
		Sessions:  sessions,
		Transport: transport,
		Codec:     codec,
		Pending:   pending,
		Queue:     queue,
		Session:   s.cfg.Session,
	})
	if err != nil {
		return err
	}
	s.handler, err = connector.NewHandler(codec, pending, queue, s.cfg.Session.ReplyTimeout)
	if err != nil {
		return err
	}

	if s.bot == nil {
		if strings.TrimSpace(s.cfg.Telegram.Token) == "" {
			return ErrTelegramTokenRequired
		}
		api, err := telegram.NewBotAPI(s.cfg.Telegram.Token)
		if err != nil {
			return err
		}
		s.bot = api
	}
	s.source, err = telegram.NewSource(s.cfg.Telegram, s.bot, s.handler)
	if err != nil {
		return err
	}
	s.link.SetBroadcastSink(s.source)

	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		s.admin = connector.NewAdminServer(connector.AdminConfig{
			ListenAddr:  s.cfg.AdminListenAddr,
			CORSOrigins: s.cfg.AdminCORSOrigins,
			NodeID:      s.cfg.ConnectorID,
		}, s.link)
	}

	log.Info().
		Str("connector_id", s.cfg.ConnectorID).
		Str("cortex_url", s.cfg.CortexURL).
		Dur("reply_timeout", s.cfg.Session.ReplyTimeout).
		Bool("admin", s.admin != nil).
		Msg("bridge.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(s.link.Run(gctx))
	})
	g.Go(func() error {
		return s.source.Run(gctx)
	})
	if s.admin != nil {
		g.Go(func() error {
			return s.admin.Serve(gctx)
		})
	}
	err := g.Wait()
	log.Info().Err(err).Msg("bridge.Service.serve stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
