package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/connectorctl/internal/testutil/testlog"
)

func TestReplySlotSettlesOnce(t *testing.T) {
	testlog.Start(t)
	s := NewReplySlot()
	if _, ok := s.Value(); ok {
		t.Fatalf("new slot should be open")
	}
	if !s.Settle("first") {
		t.Fatalf("first settle should win")
	}
	if s.Settle("second") {
		t.Fatalf("second settle should be ignored")
	}
	v, ok := s.Value()
	if !ok || v != "first" {
		t.Fatalf("unexpected value=%q ok=%v", v, ok)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done should be closed")
	}
}

func TestReplySlotConcurrentSettle(t *testing.T) {
	testlog.Start(t)
	s := NewReplySlot()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Settle(fmt.Sprintf("v%d", i)) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestPendingTableRegisterRejectsCollision(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	first, err := tbl.Register("42", "req.1", []byte("m1"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tbl.Register("42", "req.2", []byte("m2")); !errors.Is(err, ErrConversationPending) {
		t.Fatalf("expected ErrConversationPending, got %v", err)
	}
	got, ok := tbl.Get("42")
	if !ok || got != first {
		t.Fatalf("first request should remain registered")
	}
	if _, err := tbl.Register("  ", "req.3", nil); !errors.Is(err, ErrConversationRequired) {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
}

func TestPendingTableResolve(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	req, err := tbl.Register("42", "req.1", []byte("m1"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res := tbl.Resolve("42", "req.other", "nope"); res != ResolveStale {
		t.Fatalf("expected stale, got %v", res)
	}
	if res := tbl.Resolve("42", "", "hello back"); res != ResolveDelivered {
		t.Fatalf("expected delivered, got %v", res)
	}
	if v, ok := req.Slot.Value(); !ok || v != "hello back" {
		t.Fatalf("unexpected slot value=%q ok=%v", v, ok)
	}
	if tbl.Len() != 0 {
		t.Fatalf("entry should be removed on settle")
	}
	if res := tbl.Resolve("42", "", "late"); res != ResolveUnknown {
		t.Fatalf("expected unknown, got %v", res)
	}
	if v, _ := req.Slot.Value(); v != "hello back" {
		t.Fatalf("slot changed after settle: %q", v)
	}
}

func TestPendingTableAbandonLosesToSettle(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	req, _ := tbl.Register("7", "req.1", []byte("m"))
	tbl.Resolve("7", "req.1", "done")
	if tbl.Abandon(req) {
		t.Fatalf("abandon must not win over a settle")
	}

	req2, _ := tbl.Register("7", "req.2", []byte("m"))
	if !tbl.Abandon(req2) {
		t.Fatalf("abandon of open request should remove it")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table")
	}
	if tbl.Abandon(req2) {
		t.Fatalf("second abandon should be a no-op")
	}
}

func TestPendingTableLateReplyAfterAbandon(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	slow, _ := tbl.Register("9", "req.slow", []byte("slow"))
	if !tbl.Abandon(slow) {
		t.Fatalf("abandon of open request should remove it")
	}
	next, _ := tbl.Register("9", "req.next", []byte("next"))

	// Correlated late reply is dropped and the newer request stays open.
	if res := tbl.Resolve("9", "req.slow", "answer to slow"); res != ResolveStale {
		t.Fatalf("expected stale, got %v", res)
	}
	if _, settled := next.Slot.Value(); settled {
		t.Fatalf("newer request settled by a reply naming the abandoned one")
	}

	// Without inReplyTo the reply can only be matched by conversation.
	if res := tbl.Resolve("9", "", "answer to slow"); res != ResolveDelivered {
		t.Fatalf("expected delivered, got %v", res)
	}
	if v, _ := next.Slot.Value(); v != "answer to slow" {
		t.Fatalf("uncorrelated reply should settle the pending request, got %q", v)
	}
	if _, settled := slow.Slot.Value(); settled {
		t.Fatalf("abandoned slot must stay unsettled")
	}
}

func TestPendingTableTakeSentOnOrdersBySubmission(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	for i := 1; i <= 4; i++ {
		if _, err := tbl.Register(fmt.Sprintf("c%d", i), fmt.Sprintf("r%d", i), []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	tbl.MarkSent("c3", "r3", 1)
	tbl.MarkSent("c1", "r1", 1)
	tbl.MarkSent("c2", "r2", 1)
	tbl.MarkSent("c4", "r4", 2)
	tbl.Resolve("c2", "", "answered")

	got := tbl.TakeSentOn(1)
	if len(got) != 2 || string(got[0].Payload) != "m1" || string(got[1].Payload) != "m3" {
		t.Fatalf("unexpected resend set: %+v", got)
	}
	if again := tbl.TakeSentOn(1); len(again) != 0 {
		t.Fatalf("resend set should be taken once: %+v", again)
	}
	if tbl.MarkSent("c1", "stale", 3) {
		t.Fatalf("mark sent with wrong request id should fail")
	}

	list := tbl.List()
	if len(list) != 3 || list[0].ConversationID != "c1" || list[0].Attempts != 1 {
		t.Fatalf("unexpected snapshot: %+v", list)
	}
}
