package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/connectorctl/internal/observability"
	"github.com/danmuck/connectorctl/internal/protocol/envelope"
	"github.com/danmuck/connectorctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrLinkRunning       = errors.New("connector: link already running")
	ErrConnect           = errors.New("connector: connect failed")
	ErrTransport         = errors.New("connector: transport failed")
	ErrSessionsRequired  = errors.New("connector: session provider required")
	ErrTransportRequired = errors.New("connector: transport required")
	ErrCodecRequired     = errors.New("connector: codec required")
)

// LinkConfig wires the link to its collaborators and shared structures.
type LinkConfig struct {
	Sessions  SessionProvider
	Transport Transport
	Codec     Codec
	Pending   *session.PendingTable
	Queue     *session.SendQueue
	Session   session.Config
}

// Link owns the single backend connection and its reconnect loop.
type Link struct {
	sessions  SessionProvider
	transport Transport
	codec     Codec
	pending   *session.PendingTable
	queue     *session.SendQueue
	backoff   *session.Backoff

	// sleep waits between connect attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error

	running    atomic.Bool
	generation atomic.Uint64
	connects   atomic.Uint64

	mu          sync.RWMutex
	state       State
	sessionID   string
	lastErr     string
	connectedAt time.Time
	broadcast   BroadcastSink
}

func NewLink(cfg LinkConfig) (*Link, error) {
	if cfg.Sessions == nil {
		return nil, ErrSessionsRequired
	}
	if cfg.Transport == nil {
		return nil, ErrTransportRequired
	}
	if cfg.Codec == nil {
		return nil, ErrCodecRequired
	}
	if cfg.Pending == nil {
		cfg.Pending = session.NewPendingTable()
	}
	if cfg.Queue == nil {
		cfg.Queue = session.NewSendQueue()
	}
	sessCfg := cfg.Session.WithDefaults()
	return &Link{
		sessions:  cfg.Sessions,
		transport: cfg.Transport,
		codec:     cfg.Codec,
		pending:   cfg.Pending,
		queue:     cfg.Queue,
		backoff:   session.NewBackoff(sessCfg.Backoff, rand.New(rand.NewSource(time.Now().UnixNano()))),
		sleep:     sleepContext,
		state:     StateDisconnected,
	}, nil
}

// SetBroadcastSink routes "broadcast" replies to sink.
func (l *Link) SetBroadcastSink(sink BroadcastSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = sink
}

func (l *Link) Pending() *session.PendingTable { return l.pending }

func (l *Link) Queue() *session.SendQueue { return l.queue }

// Run connects and keeps the link alive until ctx is cancelled.
// Connectivity loss is never returned; only ctx.Err() ends the loop.
func (l *Link) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLinkRunning
	}
	defer l.running.Store(false)
	defer l.setState(StateStopped, nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.setState(StateConnecting, nil)
		conn, gen, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.RecordConnect(false)
			delay := l.backoff.Next()
			log.Warn().
				Err(err).
				Int("attempt", l.backoff.Attempts()).
				Dur("retry_in", delay).
				Msg("connector.Link.Run connect failed")
			l.setState(StateReconnecting, err)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		observability.RecordConnect(true)
		l.backoff.Reset()
		l.connects.Add(1)
		l.markConnected()
		log.Info().
			Uint64("generation", gen).
			Str("session_id", l.Status().SessionID).
			Int("queued", l.queue.Len()).
			Msg("connector.Link.Run connected")

		err = l.serve(ctx, conn, gen)
		l.setState(StateDraining, err)
		resent := l.requeueSentOn(gen)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := l.backoff.Next()
		log.Error().
			Err(err).
			Uint64("generation", gen).
			Int("resent", resent).
			Dur("retry_in", delay).
			Msg("connector.Link.Run connection lost")
		l.setState(StateReconnecting, err)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connect fetches a fresh session id and dials it. The id is never reused across attempts.
func (l *Link) connect(ctx context.Context) (Conn, uint64, error) {
	sessionID, err := l.sessions.FetchSessionID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetch session: %w", ErrConnect, err)
	}
	conn, err := l.transport.Connect(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: dial session=%s: %w", ErrConnect, sessionID, err)
	}
	gen := l.generation.Add(1)
	l.mu.Lock()
	l.sessionID = sessionID
	l.mu.Unlock()
	return conn, gen, nil
}

// serve runs the writer and reader until either fails or ctx ends.
func (l *Link) serve(ctx context.Context, conn Conn, gen uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Uint64("generation", gen).Msg("connector.Link.serve close")
		}
		return nil
	})
	g.Go(func() error {
		return l.writeLoop(gctx, conn, gen)
	})
	g.Go(func() error {
		return l.readLoop(gctx, conn)
	})
	return g.Wait()
}

func (l *Link) writeLoop(ctx context.Context, conn Conn, gen uint64) error {
	for {
		item, err := l.queue.Pop(ctx)
		if err != nil {
			return err
		}
		observability.SetQueueDepth(l.queue.Len())
		if !l.pending.MarkSent(item.ConversationID, item.RequestID, gen) {
			log.Debug().
				Str("conversation_id", item.ConversationID).
				Msg("connector.Link.writeLoop sending payload whose caller already left")
		}
		if err := conn.Send(ctx, item.Payload); err != nil {
			return fmt.Errorf("%w: write: %w", ErrTransport, err)
		}
		log.Debug().
			Str("conversation_id", item.ConversationID).
			Uint64("seq", item.Seq).
			Uint64("generation", gen).
			Msg("connector.Link.writeLoop sent")
	}
}

func (l *Link) readLoop(ctx context.Context, conn Conn) error {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		l.dispatch(raw)
	}
}

// requeueSentOn puts unanswered payloads written on gen back at the queue front.
func (l *Link) requeueSentOn(gen uint64) int {
	items := l.pending.TakeSentOn(gen)
	if len(items) == 0 {
		return 0
	}
	l.queue.PushFront(items...)
	observability.RecordResends(len(items))
	observability.SetQueueDepth(l.queue.Len())
	for _, item := range items {
		log.Info().
			Str("conversation_id", item.ConversationID).
			Uint64("seq", item.Seq).
			Msg("connector.Link re-queued pending message after disconnect")
	}
	return len(items)
}

// dispatch decodes one frame and resolves the matching pending request.
func (l *Link) dispatch(raw []byte) {
	frame, err := l.codec.DecodeFrame(raw)
	if err != nil {
		observability.RecordFrameDropped("decode")
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("connector.Link.dispatch dropped frame")
		return
	}
	if frame.Kind != envelope.KindReply {
		observability.RecordFrameDropped("ignored_type")
		log.Debug().Str("type", frame.Type).Msg("connector.Link.dispatch ignoring event type")
		return
	}
	if frame.ConversationID == envelope.BroadcastConversation {
		if sink := l.broadcastSink(); sink != nil {
			observability.RecordReply("broadcast")
			go sink.Broadcast(frame.Text)
			return
		}
	}

	res := l.pending.Resolve(frame.ConversationID, frame.InReplyTo, frame.Text)
	observability.RecordReply(res.String())
	observability.SetPending(l.pending.Len())
	if res != session.ResolveDelivered {
		log.Warn().
			Str("conversation_id", frame.ConversationID).
			Str("in_reply_to", frame.InReplyTo).
			Str("resolution", res.String()).
			Msg("connector.Link.dispatch reply for unknown conversation")
		return
	}
	log.Debug().Str("conversation_id", frame.ConversationID).Msg("connector.Link.dispatch delivered")
}

func (l *Link) broadcastSink() BroadcastSink {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.broadcast
}

func (l *Link) setState(state State, cause error) {
	l.mu.Lock()
	l.state = state
	if cause != nil && !errors.Is(cause, context.Canceled) {
		l.lastErr = cause.Error()
	}
	l.mu.Unlock()
	observability.SetLinkState(string(state), knownStates)
}

func (l *Link) markConnected() {
	l.mu.Lock()
	l.state = StateConnected
	l.connectedAt = time.Now()
	l.mu.Unlock()
	observability.SetLinkState(string(StateConnected), knownStates)
}

// Status returns a snapshot for admin views.
func (l *Link) Status() Status {
	l.mu.RLock()
	st := Status{
		State:       l.state,
		SessionID:   l.sessionID,
		LastError:   l.lastErr,
		ConnectedAt: l.connectedAt,
	}
	l.mu.RUnlock()
	st.Generation = l.generation.Load()
	st.Connects = l.connects.Load()
	st.FailedAttempt = l.backoff.Attempts()
	st.QueueDepth = l.queue.Len()
	st.Pending = l.pending.List()
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
