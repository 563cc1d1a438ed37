// Package envelope encodes connector requests and decodes Cortex-M frames as CloudEvents 1.0 JSON.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SpecVersion     = "1.0"
	ContentTypeJSON = "application/json"

	TypeInbound  = "assistant.message.inbound"
	TypeOutbound = "assistant.message.outbound"

	// BroadcastConversation addresses every known chat instead of one conversation.
	BroadcastConversation = "broadcast"
)

var (
	ErrDecode              = errors.New("envelope: decode frame")
	ErrConnectorIDRequired = errors.New("envelope: connector id required")
	ErrMissingConversation = errors.New("envelope: missing conversation id")
)

// Kind classifies one decoded frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindReply
)

func (k Kind) String() string {
	if k == KindReply {
		return "reply"
	}
	return "unknown"
}

// Event is the CloudEvents structured-mode envelope.
type Event struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	ID              string          `json:"id"`
	Time            string          `json:"time,omitempty"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// InboundData is the payload of assistant.message.inbound.
type InboundData struct {
	ConnectorID    string `json:"connectorId"`
	ConversationID string `json:"conversationId"`
	RoomID         string `json:"roomId"`
	Text           string `json:"text"`
}

// OutboundData is the payload of assistant.message.outbound.
type OutboundData struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	InReplyTo      string `json:"inReplyTo,omitempty"`
}

// Inbound is one encoded request ready for the send queue.
type Inbound struct {
	EventID string
	Payload []byte
}

// Frame is the decoded view of one backend frame.
type Frame struct {
	Kind           Kind
	Type           string
	EventID        string
	ConversationID string
	Text           string
	InReplyTo      string
}

// Codec builds and parses envelopes for one connector identity.
type Codec struct {
	connectorID string
	source      string
	now         func() time.Time
	newID       func() string
}

func NewCodec(connectorID string) (*Codec, error) {
	id := strings.TrimSpace(connectorID)
	if id == "" {
		return nil, ErrConnectorIDRequired
	}
	return &Codec{
		connectorID: id,
		source:      SourceFor(id),
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// SourceFor returns the CloudEvents source URN of a connector.
func SourceFor(connectorID string) string {
	return "urn:connector:" + connectorID
}

func (c *Codec) ConnectorID() string { return c.connectorID }

func (c *Codec) Source() string { return c.source }

// EncodeInbound builds an assistant.message.inbound event.
func (c *Codec) EncodeInbound(conversationID, roomID, text string) (Inbound, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Inbound{}, ErrMissingConversation
	}
	if strings.TrimSpace(roomID) == "" {
		roomID = conversationID
	}
	data, err := json.Marshal(InboundData{
		ConnectorID:    c.connectorID,
		ConversationID: conversationID,
		RoomID:         roomID,
		Text:           text,
	})
	if err != nil {
		return Inbound{}, err
	}
	ev := Event{
		SpecVersion:     SpecVersion,
		Type:            TypeInbound,
		Source:          c.source,
		ID:              c.newID(),
		Time:            c.now().UTC().Format(time.RFC3339Nano),
		DataContentType: ContentTypeJSON,
		Data:            data,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{EventID: ev.ID, Payload: payload}, nil
}

// DecodeFrame parses one backend frame. Event types other than
// assistant.message.outbound decode to KindUnknown without error.
func (c *Codec) DecodeFrame(raw []byte) (Frame, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	f := Frame{Type: ev.Type, EventID: ev.ID}
	if ev.Type != TypeOutbound {
		return f, nil
	}
	var data OutboundData
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return Frame{}, fmt.Errorf("%w: data: %v", ErrDecode, err)
		}
	}
	if strings.TrimSpace(data.ConversationID) == "" {
		return Frame{}, fmt.Errorf("%w: %v", ErrDecode, ErrMissingConversation)
	}
	f.Kind = KindReply
	f.ConversationID = strings.TrimSpace(data.ConversationID)
	f.Text = data.Text
	f.InReplyTo = strings.TrimSpace(data.InReplyTo)
	return f, nil
}

// EncodeOutbound builds a reply event; used by test backends and tooling.
func (c *Codec) EncodeOutbound(reply OutboundData) ([]byte, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{
		SpecVersion:     SpecVersion,
		Type:            TypeOutbound,
		Source:          "urn:cortex-m",
		ID:              c.newID(),
		Time:            c.now().UTC().Format(time.RFC3339Nano),
		DataContentType: ContentTypeJSON,
		Data:            data,
	})
}
