package connector

import (
	"context"

	"github.com/danmuck/connectorctl/internal/protocol/envelope"
)

// SessionProvider fetches the session id that names the backend stream.
type SessionProvider interface {
	FetchSessionID(ctx context.Context) (string, error)
}

// Transport opens one duplex connection for a session id.
type Transport interface {
	Connect(ctx context.Context, sessionID string) (Conn, error)
}

// Conn is a live duplex connection. Close must unblock a pending Receive.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Codec encodes requests and decodes backend frames.
type Codec interface {
	EncodeInbound(conversationID, roomID, text string) (envelope.Inbound, error)
	DecodeFrame(raw []byte) (envelope.Frame, error)
}

// BroadcastSink receives replies addressed to every conversation.
type BroadcastSink interface {
	Broadcast(text string)
}
