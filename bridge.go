package rfcomm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotEnabled is returned when the bridge is used before Enable.
	ErrNotEnabled = errors.New("rfcomm: bridge not enabled")

	// ErrChannelsOpen is returned by Enable when re-initialization is
	// requested while channels are still open.
	ErrChannelsOpen = errors.New("rfcomm: channels still open")
)

// Channel identifies one accepted RFCOMM connection. The id is assigned by
// the native stack and is unique among currently open channels; it may be
// reused after the channel has fully closed.
type Channel struct {
	ID     int
	Remote MAC
}

// Bridge is the application-facing surface: it composes the channel
// registry, the callback dispatcher and the outbound write path on top of a
// native Stack. All methods are safe for concurrent use.
type Bridge struct {
	stack    Stack
	registry *registry

	mu        sync.Mutex // guards enabled/listening
	enabled   bool
	listening bool

	connectHandler atomic.Pointer[func(Channel)]
	dataHandler    atomic.Pointer[func(Channel, []byte)]
	errorHandler   atomic.Pointer[func(error)]
}

// DefaultBridge is the bridge bound to the platform's native stack (BlueZ
// on Linux).
//
// Make sure to call Enable() before using it.
var DefaultBridge = New(defaultStack())

// New returns a bridge driving the given native stack.
func New(stack Stack) *Bridge {
	return &Bridge{
		stack:    stack,
		registry: newRegistry(),
	}
}

// Enable initializes the bridge: an empty registry, unset handlers, and a
// started native stack. It must be called before any other method. Calling
// Enable again resets all state, which is only legal while no channels are
// open.
func (b *Bridge) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registry.len() > 0 {
		return ErrChannelsOpen
	}
	b.registry.reset()
	b.connectHandler.Store(nil)
	b.dataHandler.Store(nil)
	b.errorHandler.Store(nil)
	if err := b.stack.Start(&eventSink{b: b}); err != nil {
		return fmt.Errorf("rfcomm: enable: %w", err)
	}
	b.enabled = true
	return nil
}

// Disable stops the listener and tears down any open channels. The bridge
// can be enabled again afterwards.
func (b *Bridge) Disable() error {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return nil
	}
	b.enabled = false
	b.listening = false
	b.mu.Unlock()

	for _, c := range b.registry.snapshot() {
		if c.setClosing() {
			b.stack.CloseChannel(c.id)
		}
	}
	return b.stack.Stop()
}

// StartListener advertises the service under the given name and UUID and
// begins accepting connections. A failed advertisement is surfaced to the
// caller; the bridge remains usable.
func (b *Bridge) StartListener(serviceName string, serviceUUID UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return ErrNotEnabled
	}
	if err := b.stack.Advertise(serviceName, serviceUUID); err != nil {
		return fmt.Errorf("rfcomm: start listener %q: %w", serviceName, err)
	}
	b.listening = true
	return nil
}

// SetConnectHandler installs the handler invoked for each accepted
// connection. There is at most one connect handler at a time; installing a
// new one replaces the old. Events ingested while no handler is installed
// are dropped, not queued. Events already in flight at the moment of the
// swap complete against the previously installed handler.
func (b *Bridge) SetConnectHandler(fn func(ch Channel)) {
	if fn == nil {
		b.connectHandler.Store(nil)
		return
	}
	b.connectHandler.Store(&fn)
}

// SetDataHandler installs the handler invoked with each payload received on
// a channel. Replacement semantics match SetConnectHandler.
func (b *Bridge) SetDataHandler(fn func(ch Channel, data []byte)) {
	if fn == nil {
		b.dataHandler.Store(nil)
		return
	}
	b.dataHandler.Store(&fn)
}

// SetErrorHandler installs the handler for native stack malfunctions. Stack
// errors never tear down unrelated channels; with no handler installed they
// are logged and otherwise ignored.
func (b *Bridge) SetErrorHandler(fn func(err error)) {
	if fn == nil {
		b.errorHandler.Store(nil)
		return
	}
	b.errorHandler.Store(&fn)
}

func (b *Bridge) reportError(err error) {
	if fn := b.errorHandler.Load(); fn != nil {
		(*fn)(err)
		return
	}
	logrus.WithError(err).Error("rfcomm: stack error")
}
