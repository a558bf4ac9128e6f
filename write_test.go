package rfcomm

import (
	"errors"
	"sync"
	"testing"
)

type countingStack struct {
	mu   sync.Mutex
	sent map[int]int
}

func (s *countingStack) Start(EventSink) error        { return nil }
func (s *countingStack) Advertise(string, UUID) error { return nil }

func (s *countingStack) Send(id int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[int]int)
	}
	s.sent[id] += len(p)
	return len(p), nil
}

func (s *countingStack) CloseChannel(int) {}
func (s *countingStack) Stop() error      { return nil }

func (s *countingStack) bytes(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id]
}

// A writer that kept a channel entry across teardown must not be able to
// push bytes onto a fresh channel that reused the same id.
func TestStaleEntryCannotReachReusedID(t *testing.T) {
	st := &countingStack{}
	b := New(st)
	if err := b.Enable(); err != nil {
		t.Fatal(err)
	}
	sink := &eventSink{b: b}

	sink.Accepted(7, MAC{0x01})
	stale := b.registry.lookup(7)
	if stale == nil {
		t.Fatal("channel 7 not registered")
	}

	// Native teardown evicts the entry, then the stack hands out id 7 again.
	sink.Closed(7)
	sink.Accepted(7, MAC{0x02})

	if n, err := b.sendDirect(stale, []byte("stale")); !errors.Is(err, ErrChannelNotFound) || n != 0 {
		t.Fatalf("stale send: got n=%d err=%v, want ErrChannelNotFound", n, err)
	}
	if got := st.bytes(7); got != 0 {
		t.Fatalf("stale bytes reached the reused channel: %d", got)
	}

	if n, err := b.Write(7, []byte("ok")); err != nil || n != 2 {
		t.Fatalf("fresh write: got n=%d err=%v", n, err)
	}
	if got := st.bytes(7); got != 2 {
		t.Fatalf("fresh channel sent %d bytes, want 2", got)
	}
}
