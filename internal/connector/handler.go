package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/connectorctl/internal/observability"
	"github.com/danmuck/connectorctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrReplyTimeout        = errors.New("connector: reply timeout")
	ErrConversationBusy    = errors.New("connector: conversation busy")
	ErrInvalidReplyTimeout = errors.New("connector: invalid reply timeout")
)

// Handler is the request entry point used by message sources.
type Handler struct {
	codec   Codec
	pending *session.PendingTable
	queue   *session.SendQueue
	timeout time.Duration
}

func NewHandler(codec Codec, pending *session.PendingTable, queue *session.SendQueue, timeout time.Duration) (*Handler, error) {
	if codec == nil {
		return nil, ErrCodecRequired
	}
	if timeout <= 0 {
		return nil, ErrInvalidReplyTimeout
	}
	if pending == nil || queue == nil {
		return nil, fmt.Errorf("connector: pending table and send queue required")
	}
	return &Handler{codec: codec, pending: pending, queue: queue, timeout: timeout}, nil
}

// Submit sends text for conversationID and waits for its reply.
// It returns ErrReplyTimeout when the reply window elapses and ErrConversationBusy
// when the conversation already has a request in flight.
func (h *Handler) Submit(ctx context.Context, conversationID, roomID, text string) (string, error) {
	start := time.Now()
	in, err := h.codec.EncodeInbound(conversationID, roomID, text)
	if err != nil {
		return "", err
	}
	req, err := h.pending.Register(conversationID, in.EventID, in.Payload)
	if err != nil {
		if errors.Is(err, session.ErrConversationPending) {
			observability.RecordRequest("busy", time.Since(start))
			return "", fmt.Errorf("%w: conversation=%s", ErrConversationBusy, conversationID)
		}
		return "", err
	}
	h.queue.Push(req.Outbound())
	observability.SetPending(h.pending.Len())
	observability.SetQueueDepth(h.queue.Len())
	log.Info().
		Str("conversation_id", req.ConversationID).
		Str("request_id", req.RequestID).
		Msg("connector.Handler.Submit queued inbound event")

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-req.Slot.Done():
		reply, _ := req.Slot.Value()
		observability.RecordRequest("ok", time.Since(start))
		return reply, nil
	case <-timer.C:
		waitErr = ErrReplyTimeout
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	// The slot outlives the wait: removal happens only here, and a settle that
	// raced the timer still wins.
	if !h.pending.Abandon(req) {
		if reply, ok := req.Slot.Value(); ok {
			observability.RecordRequest("ok", time.Since(start))
			return reply, nil
		}
	}
	observability.SetPending(h.pending.Len())
	outcome := "timeout"
	if !errors.Is(waitErr, ErrReplyTimeout) {
		outcome = "cancelled"
	}
	observability.RecordRequest(outcome, time.Since(start))
	log.Warn().
		Str("conversation_id", req.ConversationID).
		Dur("waited", time.Since(start)).
		Err(waitErr).
		Msg("connector.Handler.Submit no reply")
	return "", waitErr
}
