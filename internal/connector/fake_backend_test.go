package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/connectorctl/internal/protocol/envelope"
	"github.com/danmuck/connectorctl/internal/protocol/session"
)

var errFakeClosed = errors.New("fake: connection closed")

// fakeBackend implements SessionProvider and Transport in memory.
type fakeBackend struct {
	mu           sync.Mutex
	sessionFails int
	sessionCalls int
	conns        []*fakeConn
	wire         []string
	connected    chan *fakeConn
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{connected: make(chan *fakeConn, 16)}
}

func (b *fakeBackend) FetchSessionID(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionCalls++
	if b.sessionFails > 0 {
		b.sessionFails--
		return "", errors.New("fake: session endpoint down")
	}
	return fmt.Sprintf("sess-%d", b.sessionCalls), nil
}

func (b *fakeBackend) Connect(ctx context.Context, sessionID string) (Conn, error) {
	c := &fakeConn{
		backend:   b,
		sessionID: sessionID,
		inbound:   make(chan []byte, 64),
		sent:      make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	b.connected <- c
	return c, nil
}

func (b *fakeBackend) wireLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.wire))
	copy(out, b.wire)
	return out
}

func (b *fakeBackend) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

type fakeConn struct {
	backend   *fakeBackend
	sessionID string
	inbound   chan []byte
	sent      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.backend.mu.Lock()
	c.backend.wire = append(c.backend.wire, conversationOf(payload))
	c.backend.mu.Unlock()
	c.sent <- payload
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the backend disappearing.
func (c *fakeConn) drop() { _ = c.Close() }

func conversationOf(payload []byte) string {
	var ev envelope.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "?"
	}
	var data envelope.InboundData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return "?"
	}
	return data.ConversationID + ":" + data.Text
}

func eventIDOf(t *testing.T, payload []byte) string {
	t.Helper()
	var ev envelope.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return ev.ID
}

type harness struct {
	backend *fakeBackend
	codec   *envelope.Codec
	link    *Link
	handler *Handler
	sleeps  chan time.Duration
	release chan struct{}
	cancel  context.CancelFunc
	done    chan error
}

type harnessOpts struct {
	timeout      time.Duration
	sessionFails int
	gatedSleep   bool
	realSleep    bool
	backoff      session.BackoffConfig
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.timeout <= 0 {
		opts.timeout = 2 * time.Second
	}
	backend := newFakeBackend()
	backend.sessionFails = opts.sessionFails
	codec, err := envelope.NewCodec("telegram-1")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	pending := session.NewPendingTable()
	queue := session.NewSendQueue()
	cfg := session.DefaultConfig()
	if opts.backoff.InitialDelay > 0 {
		cfg.Backoff = opts.backoff
	}
	link, err := NewLink(LinkConfig{
		Sessions:  backend,
		Transport: backend,
		Codec:     codec,
		Pending:   pending,
		Queue:     queue,
		Session:   cfg,
	})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	handler, err := NewHandler(codec, pending, queue, opts.timeout)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	h := &harness{
		backend: backend,
		codec:   codec,
		link:    link,
		handler: handler,
		sleeps:  make(chan time.Duration, 64),
		release: make(chan struct{}),
		done:    make(chan error, 1),
	}
	if !opts.realSleep {
		link.sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case h.sleeps <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
			if opts.gatedSleep {
				select {
				case <-h.release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return ctx.Err()
		}
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.link.Run(ctx)
	}()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	<-h.done
}

func (h *harness) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.backend.connected:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection")
		return nil
	}
}

func (h *harness) reply(t *testing.T, c *fakeConn, conversationID, text, inReplyTo string) {
	t.Helper()
	raw, err := h.codec.EncodeOutbound(envelope.OutboundData{
		ConversationID: conversationID,
		Text:           text,
		InReplyTo:      inReplyTo,
	})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	c.inbound <- raw
}

type submitResult struct {
	reply string
	err   error
}

func (h *harness) submit(conversationID, text string) <-chan submitResult {
	out := make(chan submitResult, 1)
	go func() {
		reply, err := h.handler.Submit(context.Background(), conversationID, conversationID, text)
		out <- submitResult{reply: reply, err: err}
	}()
	return out
}

func recvSent(t *testing.T, c *fakeConn) []byte {
	t.Helper()
	select {
	case raw := <-c.sent:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for payload on wire")
		return nil
	}
}

func awaitResult(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for submit result")
		return submitResult{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
