package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/connectorctl/internal/connector"
	"github.com/danmuck/connectorctl/internal/protocol/envelope"
	"github.com/danmuck/connectorctl/internal/protocol/session"
	"github.com/danmuck/connectorctl/internal/testutil/testlog"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
)

// cortexStub answers every inbound event with "echo: <text>".
func cortexStub(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connector":
			_, _ = w.Write([]byte("sess-1\n"))
		case r.URL.Path == "/connector/sess-1":
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer ws.Close()
			for {
				_, raw, err := ws.ReadMessage()
				if err != nil {
					return
				}
				var ev struct {
					ID     string               `json:"id"`
					Type   string               `json:"type"`
					Source string               `json:"source"`
					Data   envelope.InboundData `json:"data"`
				}
				if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != envelope.TypeInbound {
					continue
				}
				out, _ := json.Marshal(map[string]any{
					"specversion": "1.0",
					"type":        envelope.TypeOutbound,
					"source":      "urn:cortex-m",
					"id":          "reply-" + ev.ID,
					"data": map[string]string{
						"conversationId": ev.Data.ConversationID,
						"text":           "echo: " + ev.Data.Text + " via " + ev.Source,
						"inReplyTo":      ev.ID,
					},
				})
				if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

type recordingBot struct {
	updates chan tgbotapi.Update
	sent    chan tgbotapi.MessageConfig
}

func (b *recordingBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *recordingBot) StopReceivingUpdates() {}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent <- msg
	}
	return tgbotapi.Message{}, nil
}

func (b *recordingBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestServiceRelaysTelegramMessageThroughCortex(t *testing.T) {
	testlog.Start(t)
	srv := cortexStub(t)
	defer srv.Close()

	bot := &recordingBot{
		updates: make(chan tgbotapi.Update, 1),
		sent:    make(chan tgbotapi.MessageConfig, 4),
	}
	cfg := DefaultServiceConfig()
	cfg.CortexURL = srv.URL + "/"
	cfg.ConnectorID = "telegram-test"
	svc := NewServiceWithConfig(cfg, WithBot(bot), WithHTTPClient(srv.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("service did not stop")
		}
	}()

	bot.updates <- tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 7},
			Chat:      &tgbotapi.Chat{ID: 42},
			Text:      "hi",
		},
	}
	select {
	case msg := <-bot.sent:
		if msg.ChatID != 42 {
			t.Fatalf("unexpected chat %d", msg.ChatID)
		}
		if msg.Text != "echo: hi via urn:connector:telegram-test" {
			t.Fatalf("unexpected reply %q", msg.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply relayed")
	}
	if st := svc.Link().Status(); st.State != connector.StateConnected || st.SessionID != "sess-1" {
		t.Fatalf("unexpected link status: %+v", st)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrCortexURLRequired) {
		t.Fatalf("expected ErrCortexURLRequired, got %v", err)
	}

	cfg.CortexURL = "http://cortex-m:8080/api/cortex-m/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with url should validate: %v", err)
	}

	bad := cfg
	bad.ConnectorID = " "
	if err := bad.Validate(); !errors.Is(err, envelope.ErrConnectorIDRequired) {
		t.Fatalf("expected ErrConnectorIDRequired, got %v", err)
	}

	bad = cfg
	bad.Session.SecurityMode = session.SecurityModeProduction
	if err := bad.Validate(); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	bad = cfg
	bad.Session.ReplyTimeout = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidReplyTimeout) {
		t.Fatalf("expected ErrInvalidReplyTimeout, got %v", err)
	}
}

func TestServiceRequiresTelegramToken(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.CortexURL = "http://127.0.0.1:1"
	err := NewServiceWithConfig(cfg).RunContext(context.Background())
	if !errors.Is(err, ErrTelegramTokenRequired) {
		t.Fatalf("expected ErrTelegramTokenRequired, got %v", err)
	}
	if !strings.Contains(err.Error(), "token") {
		t.Fatalf("unexpected error text %v", err)
	}
}
