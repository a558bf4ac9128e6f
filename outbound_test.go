package rfcomm_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/btkit/rfcomm"
)

func TestWriteBackpressureBuffers(t *testing.T) {
	b, fs, _ := newTestBridge(t)
	fs.SendLimit = 2
	fs.Accept(8, rfcomm.MAC{})

	payload := []byte("hello, backpressure")
	n, err := b.Write(8, payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes accepted but got %d", len(payload), n)
	}

	// The flusher retries the remainder in order.
	waitFor(t, "flush", func() bool { return len(fs.SentBytes(8)) == len(payload) })
	if got := fs.SentBytes(8); !bytes.Equal(got, payload) {
		t.Fatalf("sent bytes reordered: %q", got)
	}
}

func TestWriteOrderingAcrossBuffering(t *testing.T) {
	b, fs, _ := newTestBridge(t)
	fs.SendLimit = 3
	fs.Accept(2, rfcomm.MAC{})

	var want []byte
	for _, chunk := range []string{"first ", "second ", "third"} {
		p := []byte(chunk)
		want = append(want, p...)
		if n, err := b.Write(2, p); err != nil || n != len(p) {
			t.Fatalf("write %q: n=%d err=%v", chunk, n, err)
		}
	}
	waitFor(t, "flush", func() bool { return len(fs.SentBytes(2)) == len(want) })
	if got := fs.SentBytes(2); !bytes.Equal(got, want) {
		t.Fatalf("expected %q but got %q", want, got)
	}
}

func TestWriteTruncatesAtBufferBudget(t *testing.T) {
	b, fs, _ := newTestBridge(t)
	fs.SendLimit = 1
	fs.Accept(6, rfcomm.MAC{})

	// Much larger than the pending budget: the write comes back short and
	// the caller owns the remainder.
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := b.Write(6, payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n >= len(payload) {
		t.Fatal("expected a short write beyond the pending budget")
	}
	waitFor(t, "flush", func() bool { return len(fs.SentBytes(6)) == n })
	if got := fs.SentBytes(6); !bytes.Equal(got, payload[:n]) {
		t.Fatal("flushed bytes do not match the accepted prefix")
	}
}

func TestCloseDiscardsPendingWrites(t *testing.T) {
	b, fs, _ := newTestBridge(t)
	fs.SendLimit = 1
	fs.ManualClose = true
	fs.Accept(9, rfcomm.MAC{})

	payload := []byte("abcdef")
	if n, err := b.Write(9, payload); err != nil || n != len(payload) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	b.Close(9)
	if fs.CloseCalls(9) != 1 {
		t.Fatalf("expected 1 native close but got %d", fs.CloseCalls(9))
	}

	// Whatever made it out before the close must be an in-order prefix;
	// nothing more is sent once the channel left the Open state.
	time.Sleep(50 * time.Millisecond)
	sent := fs.SentBytes(9)
	if len(sent) > len(payload) || !bytes.Equal(sent, payload[:len(sent)]) {
		t.Fatalf("sent bytes are not a prefix of the payload: %q", sent)
	}
	fs.Drop(9)
	if _, err := b.Write(9, []byte("late")); err == nil {
		t.Fatal("write succeeded after teardown")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(fs.SentBytes(9)); got != len(sent) {
		t.Fatalf("bytes kept flowing after close: %d -> %d", len(sent), got)
	}
}
