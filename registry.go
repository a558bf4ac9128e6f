package rfcomm

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrDuplicateChannel is returned when the native stack reports an accepted
// connection with an id that is already open or closing. Per the stack
// contract this should never happen; the event is dropped and the original
// channel is left untouched.
var ErrDuplicateChannel = errors.New("rfcomm: channel id already in use")

type channelState uint8

const (
	channelOpen channelState = iota
	channelClosing
	channelClosed
)

// eventQueueDepth is the number of stack events buffered per channel before
// ingestion starts to apply backpressure to the native stack's thread.
const eventQueueDepth = 64

// channel is one registry entry: the single owner of all mutable state for
// an accepted RFCOMM connection. Other components reference channels by id
// and must go through the registry; they never cache validity.
type channel struct {
	id     int
	remote MAC

	mu        sync.Mutex
	state     channelState
	closeSent bool // the close sentinel has been placed on the event queue

	// Dispatch queue, drained in order by a single goroutine per channel.
	// done is closed when that goroutine has exited, which is the signal
	// that no handler invocation for this id is still in flight.
	events chan event
	done   chan struct{}

	// Outbound state, owned by the write path.
	writeMu      sync.Mutex   // serializes direct sends
	pending      *queue.Queue // buffered []byte writes awaiting the flusher
	pendingBytes int
	flushing     bool
}

func newChannel(id int, remote MAC) *channel {
	return &channel{
		id:      id,
		remote:  remote,
		events:  make(chan event, eventQueueDepth),
		done:    make(chan struct{}),
		pending: queue.New(),
	}
}

func (c *channel) getState() channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setClosing transitions Open -> Closing and reports whether this call made
// the transition. Already closing or closed channels are left alone, which
// makes close idempotent.
func (c *channel) setClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelOpen {
		return false
	}
	c.state = channelClosing
	return true
}

// enqueue places an event on the dispatch queue, blocking while the queue
// is full and the dispatch goroutine is still draining it. It reports false
// if the goroutine has already exited, in which case the event is dropped.
func (c *channel) enqueue(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// sendCloseEvent enqueues the close sentinel exactly once.
func (c *channel) sendCloseEvent() {
	c.mu.Lock()
	if c.closeSent {
		c.mu.Unlock()
		return
	}
	c.closeSent = true
	c.mu.Unlock()
	c.enqueue(event{kind: eventClose})
}

// finalize marks the channel Closed and discards any buffered writes. Only
// legal once the dispatch goroutine has drained (done is closed).
func (c *channel) finalize() {
	c.mu.Lock()
	c.state = channelClosed
	c.discardPendingLocked()
	c.mu.Unlock()
}

func (c *channel) discardPendingLocked() {
	for c.pending.Length() > 0 {
		c.pending.Remove()
	}
	c.pendingBytes = 0
}

// registry owns the set of live channels. The registry mutex covers only
// insert/evict/lookup bookkeeping; per-channel state is guarded by each
// entry's own mutex so operations on different ids proceed independently.
type registry struct {
	mu       sync.RWMutex
	channels map[int]*channel
}

func newRegistry() *registry {
	return &registry{channels: make(map[int]*channel)}
}

// register inserts a new entry in the Open state. It fails with
// ErrDuplicateChannel if the id is already tracked.
func (r *registry) register(id int, remote MAC) (*channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; ok {
		return nil, ErrDuplicateChannel
	}
	c := newChannel(id, remote)
	r.channels[id] = c
	return c, nil
}

func (r *registry) lookup(id int) *channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// evict removes the entry, but only if the slot still holds this exact
// entry. Comparing entry identity rather than the bare integer id means a
// stale eviction can never remove a fresh channel that reused the id.
func (r *registry) evict(c *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[c.id] == c {
		delete(r.channels, c.id)
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *registry) snapshot() []*channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}

// reset drops all entries. Only legal when no channels are open; the bridge
// enforces that before calling.
func (r *registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[int]*channel)
}
