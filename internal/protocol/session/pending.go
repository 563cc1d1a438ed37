package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrConversationRequired = errors.New("session: conversation id required")
	ErrConversationPending  = errors.New("session: conversation already has a pending request")
)

// ReplySlot holds one reply text. It settles at most once; readers may wait on Done.
type ReplySlot struct {
	once sync.Once
	done chan struct{}
	text string
}

func NewReplySlot() *ReplySlot {
	return &ReplySlot{done: make(chan struct{})}
}

// Settle stores text if the slot is still open and reports whether it did.
func (s *ReplySlot) Settle(text string) bool {
	settled := false
	s.once.Do(func() {
		s.text = text
		close(s.done)
		settled = true
	})
	return settled
}

func (s *ReplySlot) Done() <-chan struct{} {
	return s.done
}

// Value returns the settled text, or false while the slot is open.
func (s *ReplySlot) Value() (string, bool) {
	select {
	case <-s.done:
		return s.text, true
	default:
		return "", false
	}
}

// PendingRequest is one outstanding conversation request.
type PendingRequest struct {
	ConversationID string
	RequestID      string
	Seq            uint64
	Payload        []byte
	Slot           *ReplySlot
	QueuedAt       time.Time

	sentOn   uint64
	attempts int
}

// Outbound returns the queue item for this request.
func (r *PendingRequest) Outbound() Outbound {
	return Outbound{
		ConversationID: r.ConversationID,
		RequestID:      r.RequestID,
		Seq:            r.Seq,
		Payload:        r.Payload,
	}
}

// PendingSnapshot is a read-only view of one table entry.
type PendingSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	RequestID      string    `json:"request_id"`
	Seq            uint64    `json:"seq"`
	Attempts       int       `json:"attempts"`
	SentOn         uint64    `json:"sent_on_generation"`
	QueuedAt       time.Time `json:"queued_at"`
}

// ResolveResult describes what a reply did to the table.
type ResolveResult int

const (
	ResolveDelivered ResolveResult = iota
	ResolveUnknown
	ResolveStale
)

func (r ResolveResult) String() string {
	switch r {
	case ResolveDelivered:
		return "delivered"
	case ResolveStale:
		return "stale"
	default:
		return "unknown"
	}
}

// PendingTable maps conversation id to its single outstanding request.
type PendingTable struct {
	mu    sync.Mutex
	items map[string]*PendingRequest
	seq   uint64
	now   func() time.Time
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[string]*PendingRequest),
		now:   time.Now,
	}
}

// Register inserts a new request. A conversation with an outstanding request is rejected.
func (t *PendingTable) Register(conversationID, requestID string, payload []byte) (*PendingRequest, error) {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return nil, ErrConversationRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return nil, ErrConversationPending
	}
	t.seq++
	req := &PendingRequest{
		ConversationID: key,
		RequestID:      requestID,
		Seq:            t.seq,
		Payload:        payload,
		Slot:           NewReplySlot(),
		QueuedAt:       t.now(),
	}
	t.items[key] = req
	return req, nil
}

// Resolve settles and removes the entry for conversationID.
// A non-empty inReplyTo must name the pending request, otherwise the reply is stale.
// An empty inReplyTo matches by conversation only: a late reply to an abandoned
// request then settles whichever request is pending for that conversation now.
// Only backends that echo inReplyTo get protection against that.
func (t *PendingTable) Resolve(conversationID, inReplyTo, text string) ResolveResult {
	key := strings.TrimSpace(conversationID)
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.items[key]
	if !ok {
		return ResolveUnknown
	}
	if inReplyTo != "" && inReplyTo != req.RequestID {
		return ResolveStale
	}
	delete(t.items, key)
	if !req.Slot.Settle(text) {
		return ResolveStale
	}
	return ResolveDelivered
}

// Abandon removes req after its caller stopped waiting.
// It returns false when req was settled (or replaced) in the meantime; the settle wins.
func (t *PendingTable) Abandon(req *PendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.items[req.ConversationID]
	if !ok || cur != req {
		return false
	}
	if _, settled := req.Slot.Value(); settled {
		return false
	}
	delete(t.items, req.ConversationID)
	return true
}

// MarkSent records that the request's payload was handed to connection generation gen.
func (t *PendingTable) MarkSent(conversationID, requestID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.items[conversationID]
	if !ok || req.RequestID != requestID {
		return false
	}
	req.sentOn = gen
	req.attempts++
	return true
}

// TakeSentOn returns outstanding requests written on generation gen in submission order,
// and clears their generation so a later failure does not re-enqueue them twice.
func (t *PendingTable) TakeSentOn(gen uint64) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Outbound, 0)
	for _, req := range t.items {
		if req.sentOn != gen {
			continue
		}
		if _, settled := req.Slot.Value(); settled {
			continue
		}
		req.sentOn = 0
		out = append(out, req.Outbound())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (t *PendingTable) Get(conversationID string) (*PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.items[strings.TrimSpace(conversationID)]
	return req, ok
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *PendingTable) List() []PendingSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingSnapshot, 0, len(t.items))
	for _, req := range t.items {
		out = append(out, PendingSnapshot{
			ConversationID: req.ConversationID,
			RequestID:      req.RequestID,
			Seq:            req.Seq,
			Attempts:       req.attempts,
			SentOn:         req.sentOn,
			QueuedAt:       req.QueuedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}
