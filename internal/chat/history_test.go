package chat

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func msg(n int) Message {
	return Message{
		ID:       uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n)),
		UserID:   uint32(n%3 + 1),
		UserName: fmt.Sprintf("user%d", n%3+1),
		Body:     fmt.Sprintf("message %d", n),
	}
}

func ids(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Body
	}
	return out
}

func assertLinks(t *testing.T, h *History) {
	t.Helper()
	seen := 0
	prev := nilIndex
	for i := h.head; i != nilIndex; i = h.nodes[i].next {
		if h.nodes[i].prev != prev {
			t.Fatalf("node %d prev=%d want %d", i, h.nodes[i].prev, prev)
		}
		prev = i
		seen++
	}
	if prev != h.tail {
		t.Fatalf("tail=%d but walk ended at %d", h.tail, prev)
	}
	if seen != h.Len() {
		t.Fatalf("walked %d nodes, count says %d", seen, h.Len())
	}
}

func TestHistory_BoundAndEvictsOldest(t *testing.T) {
	const max = 5
	for n := 1; n <= max+1; n++ {
		h := NewHistory(max)
		var evicted []Message
		for i := 1; i <= n; i++ {
			if old, ok := h.Add(msg(i)); ok {
				evicted = append(evicted, old)
			}
			if h.Len() > max {
				t.Fatalf("length %d exceeds max %d", h.Len(), max)
			}
			assertLinks(t, h)
		}
		if n == max+1 {
			if len(evicted) != 1 || evicted[0].Body != "message 1" {
				t.Errorf("expected oldest evicted, got %v", ids(evicted))
			}
		} else if len(evicted) != 0 {
			t.Errorf("unexpected eviction at n=%d", n)
		}
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	h := NewHistory(3)
	h.Add(msg(1))
	h.Add(msg(2))
	h.Add(msg(3))
	got := ids(h.Messages())
	want := []string{"message 3", "message 2", "message 1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestHistory_DeleteIfThenClear(t *testing.T) {
	h := NewHistory(10)
	for i := 1; i <= 8; i++ {
		h.Add(msg(i))
	}
	removed := h.DeleteIf(func(m Message) bool { return m.UserID == 2 })
	if len(removed) == 0 {
		t.Fatal("expected some messages removed")
	}
	assertLinks(t, h)
	for _, m := range h.Messages() {
		if m.UserID == 2 {
			t.Errorf("message from user 2 survived: %s", m.Body)
		}
	}

	h.Clear()
	if h.Len() != 0 || len(h.Messages()) != 0 {
		t.Fatalf("expected empty list, len=%d", h.Len())
	}
	if h.head != nilIndex || h.tail != nilIndex {
		t.Error("head/tail must be cleared")
	}
	for i, n := range h.nodes {
		if n.prev != nilIndex || n.next != nilIndex {
			t.Errorf("node %d retains links", i)
		}
	}
}

func TestHistory_SlotsReused(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 20; i++ {
		h.Add(msg(i))
	}
	if len(h.nodes) > 4 {
		t.Errorf("arena grew to %d for a bound of 3", len(h.nodes))
	}
	assertLinks(t, h)
}

func TestHistory_DeleteByIDAndUser(t *testing.T) {
	h := NewHistory(10)
	for i := 1; i <= 6; i++ {
		h.Add(msg(i))
	}
	if _, ok := h.DeleteByID(msg(4).ID); !ok {
		t.Fatal("expected delete by id")
	}
	if _, ok := h.Get(msg(4).ID); ok {
		t.Error("message 4 still present")
	}
	if _, ok := h.DeleteByID(msg(4).ID); ok {
		t.Error("second delete should miss")
	}
	removed := h.DeleteByUser(msg(1).UserID)
	if len(removed) != 1 {
		t.Errorf("expected one remaining message from user, got %v", ids(removed))
	}
	assertLinks(t, h)
}

func TestHistory_ReconcileFreshOnly(t *testing.T) {
	h := NewHistory(10)
	h.Reconcile(nil, []Message{msg(1), msg(2), msg(3)})
	got := ids(h.Messages())
	if len(got) != 3 || got[0] != "message 3" {
		t.Errorf("unexpected list %v", got)
	}
}

func TestHistory_ReconcileSplicesAtMatch(t *testing.T) {
	h := NewHistory(10)
	// Local list (newest first): 6 5 4. Server sends 1..5 oldest first.
	local := []Message{msg(6), msg(5), msg(4)}
	h.Reconcile(local, []Message{msg(1), msg(2), msg(3), msg(4), msg(5)})

	got := ids(h.Messages())
	want := []string{"message 6", "message 5", "message 4", "message 3", "message 2", "message 1"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	assertLinks(t, h)
}

func TestHistory_ReconcileNoMatchConcatenates(t *testing.T) {
	h := NewHistory(10)
	local := []Message{msg(9), msg(8)}
	h.Reconcile(local, []Message{msg(1), msg(2)})
	got := ids(h.Messages())
	want := []string{"message 9", "message 8", "message 2", "message 1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestHistory_ReconcileIdempotent(t *testing.T) {
	server := []Message{msg(1), msg(2), msg(3), msg(4)}
	h := NewHistory(10)
	h.Reconcile(nil, server)
	first := ids(h.Messages())

	for round := 0; round < 3; round++ {
		h.Reconcile(h.Detach(), server)
		if h.Len() != len(first) {
			t.Fatalf("round %d: list grew to %d (was %d)", round, h.Len(), len(first))
		}
	}
	again := ids(h.Messages())
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("order changed: %v vs %v", first, again)
		}
	}
}

func TestHistory_ReconcileRespectsBound(t *testing.T) {
	h := NewHistory(4)
	local := []Message{msg(12), msg(11), msg(10)}
	h.Reconcile(local, []Message{msg(1), msg(2), msg(3), msg(4), msg(5)})
	if h.Len() != 4 {
		t.Fatalf("expected bounded length 4, got %d", h.Len())
	}
	got := ids(h.Messages())
	if got[0] != "message 12" || got[3] != "message 5" {
		t.Errorf("expected newest kept, got %v", got)
	}
}

func TestHistory_RequestSize(t *testing.T) {
	if got := NewHistory(10).RequestSize(); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if got := NewHistory(500).RequestSize(); got != 100 {
		t.Errorf("expected cap of 100, got %d", got)
	}
}
