package rfcomm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelNotFound is returned for writes to an id with no registry
	// entry, either because it was never accepted or because teardown has
	// completed and the entry was evicted.
	ErrChannelNotFound = errors.New("rfcomm: channel not found")

	// ErrChannelClosing is returned for writes issued after close was
	// initiated but before the stack confirmed teardown. No new data is
	// accepted mid-teardown.
	ErrChannelClosing = errors.New("rfcomm: channel closing")
)

// maxPendingBytes bounds the per-channel buffer of writes the native stack
// has not yet accepted. Writes beyond the bound are truncated and the
// caller retries the remainder.
const maxPendingBytes = 32 * 1024

// flushRetryDelay is how long the flusher waits before re-polling a native
// send that accepted nothing.
const flushRetryDelay = 5 * time.Millisecond

// Write relays p to the peer on the given channel. It returns the number of
// bytes accepted, which may be less than len(p) when the native stack
// applies backpressure and the pending buffer is full; the caller retries
// the remainder. Bytes the stack does not take immediately are buffered and
// flushed in order by a background goroutine, so Write never blocks on the
// radio link itself.
func (b *Bridge) Write(id int, p []byte) (int, error) {
	c := b.registry.lookup(id)
	if c == nil {
		return 0, ErrChannelNotFound
	}

	// writeMu serializes application writers on this channel so buffered
	// and direct bytes cannot interleave out of order.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case channelClosing:
		c.mu.Unlock()
		return 0, ErrChannelClosing
	case channelClosed:
		c.mu.Unlock()
		return 0, ErrChannelNotFound
	}
	if c.flushing || c.pending.Length() > 0 {
		// A flush is in progress; go behind it to keep ordering.
		n := c.bufferLocked(p)
		c.startFlusherLocked(b)
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	n, err := b.sendDirect(c, p)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return 0, ErrChannelNotFound
		}
		return n, fmt.Errorf("rfcomm: send on channel %d: %w", id, err)
	}
	if n < len(p) {
		c.mu.Lock()
		if c.state == channelOpen {
			n += c.bufferLocked(p[n:])
			c.startFlusherLocked(b)
		}
		c.mu.Unlock()
	}
	return n, nil
}

// Close initiates teardown of the channel. It is idempotent: only the first
// call on an Open channel reaches the native stack, later calls and calls
// for unknown ids are no-ops. Buffered writes are discarded; the stack
// confirms teardown through the event feed, which evicts the entry.
func (b *Bridge) Close(id int) {
	c := b.registry.lookup(id)
	if c == nil {
		return
	}
	if !c.setClosing() {
		return
	}
	c.mu.Lock()
	c.discardPendingLocked()
	c.mu.Unlock()
	b.stack.CloseChannel(id)
}

// sendDirect hands p to the native stack after confirming the registry slot
// still holds this exact entry. No lock is held around the send, so the id
// could have been evicted and reused in the meantime; a stale write must not
// land on the fresh channel wearing the same id.
func (b *Bridge) sendDirect(c *channel, p []byte) (int, error) {
	if b.registry.lookup(c.id) != c {
		return 0, ErrChannelNotFound
	}
	return b.stack.Send(c.id, p)
}

// bufferLocked copies as much of p as the pending budget allows onto the
// channel's write queue and returns the number of bytes taken.
func (c *channel) bufferLocked(p []byte) int {
	room := maxPendingBytes - c.pendingBytes
	if room <= 0 {
		return 0
	}
	if len(p) > room {
		p = p[:room]
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	c.pending.Add(buf)
	c.pendingBytes += len(buf)
	return len(buf)
}

func (c *channel) startFlusherLocked(b *Bridge) {
	if c.flushing || c.pending.Length() == 0 {
		return
	}
	c.flushing = true
	go b.flushLoop(c)
}

// flushLoop drains one channel's pending writes in order, retrying sends
// the stack refused. It stops as soon as the channel leaves the Open state;
// close takes effect no later than the next send attempt.
func (b *Bridge) flushLoop(c *channel) {
	var head []byte
	for {
		if len(head) == 0 {
			c.mu.Lock()
			if c.state != channelOpen || c.pending.Length() == 0 {
				c.flushing = false
				c.mu.Unlock()
				return
			}
			head = c.pending.Remove().([]byte)
			c.mu.Unlock()
		}
		if c.getState() != channelOpen {
			c.mu.Lock()
			c.flushing = false
			c.mu.Unlock()
			return
		}
		n, err := b.sendDirect(c, head)
		if err != nil {
			if !errors.Is(err, ErrChannelNotFound) {
				b.reportError(fmt.Errorf("rfcomm: flush on channel %d: %w", c.id, err))
			}
			c.mu.Lock()
			c.flushing = false
			c.discardPendingLocked()
			c.mu.Unlock()
			return
		}
		if n > 0 {
			c.mu.Lock()
			if c.pendingBytes >= n {
				c.pendingBytes -= n
			} else {
				c.pendingBytes = 0
			}
			c.mu.Unlock()
			head = head[n:]
		} else {
			time.Sleep(flushRetryDelay)
		}
	}
}
