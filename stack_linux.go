//go:build linux

// BlueZ-backed native stack. Some documentation for the D-Bus interface:
// https://git.kernel.org/pub/scm/bluetooth/bluez.git/tree/doc

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	bluezService        = "org.bluez"
	bluezObjectPath     = dbus.ObjectPath("/org/bluez")
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"

	// Fixed server-side RFCOMM channel registered with BlueZ.
	rfcommServerChannel uint16 = 3

	// Read buffer size for the per-connection reader loops. RFCOMM frames
	// top out well below this.
	readBufferSize = 1024
)

var errAdapterPoweredOff = errors.New("rfcomm: adapter powered off")

// Unique Profile1 object path per registration, to avoid collisions when
// several bridges live in one process.
var profilePathCounter uint64

// BlueZStack implements Stack on top of BlueZ: service advertisement via
// ProfileManager1.RegisterProfile, connections via Profile1.NewConnection
// which hands over the raw RFCOMM socket as a unix file descriptor.
type BlueZStack struct {
	mu   sync.Mutex
	sink EventSink

	bus     *dbus.Conn
	adapter *adapter.Adapter1
	id      string

	ctx         context.Context    // context for the adapter state watcher
	cancel      context.CancelFunc // halts the watcher on Stop
	propchanged chan *bluez.PropertyChanged

	profilePath dbus.ObjectPath
	registered  bool

	conns  map[int]*rfcommSocket
	nextID int
}

// rfcommSocket is one accepted connection's file descriptor. shutdown and
// close are each guarded by a Once: shutdown unblocks the reader, the
// reader closes the fd on its way out.
type rfcommSocket struct {
	fd           int
	remote       MAC
	shutdownOnce sync.Once
	closeOnce    sync.Once
}

func (s *rfcommSocket) shutdown() {
	s.shutdownOnce.Do(func() {
		if err := unix.Shutdown(s.fd, unix.SHUT_RDWR); err != nil {
			logrus.WithError(err).Debug("rfcomm: shutdown rfcomm socket")
		}
	})
}

func (s *rfcommSocket) close() {
	s.closeOnce.Do(func() {
		unix.Close(s.fd)
	})
}

// NewBlueZStack returns an unstarted BlueZ stack.
func NewBlueZStack() *BlueZStack {
	return &BlueZStack{conns: make(map[int]*rfcommSocket)}
}

func defaultStack() Stack {
	return NewBlueZStack()
}

// Start connects to the default adapter and begins watching its powered
// state. A power-off surfaces as a StackError; channels on other adapters
// (and the bridge itself) are unaffected.
func (s *BlueZStack) Start(sink EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	if s.adapter != nil {
		return nil
	}

	a, err := api.GetDefaultAdapter()
	if err != nil {
		return fmt.Errorf("rfcomm: get default adapter: %w", err)
	}
	id, err := a.GetAdapterID()
	if err != nil {
		return fmt.Errorf("rfcomm: get adapter id: %w", err)
	}
	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("rfcomm: connect system bus: %w", err)
	}

	s.adapter = a
	s.id = id
	s.bus = bus
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s.watchAdapterState()
}

// watchAdapterState forwards adapter Powered changes to the sink. BlueZ
// drops registered profiles when the adapter powers off, so the application
// needs to hear about it.
func (s *BlueZStack) watchAdapterState() error {
	var err error
	s.propchanged, err = s.adapter.WatchProperties()
	if err != nil {
		return fmt.Errorf("rfcomm: watch adapter properties: %w", err)
	}

	go func() {
		for {
			select {
			case changed := <-s.propchanged:
				// A nil signal means the watch has been torn down.
				if changed == nil {
					return
				}
				if changed.Name == "Powered" {
					if powered, ok := changed.Value.(bool); ok && !powered {
						s.mu.Lock()
						sink := s.sink
						s.mu.Unlock()
						if sink != nil {
							sink.StackError(errAdapterPoweredOff)
						}
					}
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Advertise exports a Profile1 object and registers it with BlueZ so the
// service shows up in the SDP record under the given name and UUID.
func (s *BlueZStack) Advertise(serviceName string, serviceUUID UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return errors.New("rfcomm: stack not started")
	}
	if s.registered {
		return fmt.Errorf("rfcomm: service %q: already advertising", serviceName)
	}

	n := atomic.AddUint64(&profilePathCounter, 1)
	path := dbus.ObjectPath("/com/btkit/rfcomm/profile" + strconv.FormatUint(n, 10))
	if err := s.bus.Export(&profileHandler{stack: s}, path, profileIface); err != nil {
		return fmt.Errorf("rfcomm: export profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Name": dbus.MakeVariant(serviceName),
		"Role": dbus.MakeVariant("server"),
		// BlueZ expects the channel as a uint16.
		"Channel": dbus.MakeVariant(rfcommServerChannel),
	}
	pm := s.bus.Object(bluezService, bluezObjectPath)
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, serviceUUID.String(), opts); call.Err != nil {
		_ = s.bus.Export(nil, path, profileIface)
		return fmt.Errorf("rfcomm: register profile: %w", call.Err)
	}

	s.profilePath = path
	s.registered = true
	logrus.WithFields(logrus.Fields{
		"adapter": s.id,
		"service": serviceName,
	}).Info("rfcomm: listening")
	return nil
}

func (s *BlueZStack) Send(id int, p []byte) (int, error) {
	s.mu.Lock()
	sock := s.conns[id]
	s.mu.Unlock()
	if sock == nil {
		return 0, fmt.Errorf("rfcomm: no native channel %d", id)
	}

	// The socket is non-blocking: a full send buffer surfaces as EAGAIN,
	// which is backpressure, not an error. The short count feeds the
	// bridge's pending buffer and the flusher retries the remainder.
	n, err := unix.Write(sock.fd, p)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (s *BlueZStack) CloseChannel(id int) {
	s.mu.Lock()
	sock := s.conns[id]
	s.mu.Unlock()
	if sock == nil {
		return
	}
	// The reader loop observes EOF, reports Closed and releases the fd.
	sock.shutdown()
}

// Stop unregisters the profile and tears down all connections.
func (s *BlueZStack) Stop() error {
	s.mu.Lock()
	if s.registered {
		pm := s.bus.Object(bluezService, bluezObjectPath)
		if call := pm.Call(profileManagerIface+".UnregisterProfile", 0, s.profilePath); call.Err != nil {
			logrus.WithError(call.Err).Warn("rfcomm: unregister profile")
		}
		_ = s.bus.Export(nil, s.profilePath, profileIface)
		s.registered = false
	}
	conns := make([]*rfcommSocket, 0, len(s.conns))
	for _, sock := range s.conns {
		conns = append(conns, sock)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	for _, sock := range conns {
		sock.shutdown()
	}
	return nil
}

// adoptSocket takes ownership of a file descriptor handed over by BlueZ.
// The socket is switched to non-blocking mode so sends report backpressure
// instead of stalling the caller until the peer drains.
func adoptSocket(fd int, remote MAC) *rfcommSocket {
	if err := unix.SetNonblock(fd, true); err != nil {
		logrus.WithError(err).Warn("rfcomm: set rfcomm socket non-blocking")
	}
	return &rfcommSocket{fd: fd, remote: remote}
}

// waitReadable parks until the socket has data or has been hung up.
func waitReadable(fd int) error {
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		return nil
	}
}

// readLoop pumps bytes from one RFCOMM socket into the sink until the peer
// hangs up or the socket is shut down locally.
func (s *BlueZStack) readLoop(id int, sock *rfcommSocket, sink EventSink) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := unix.Read(sock.fd, buf)
		if n > 0 {
			// The sink copies before queueing, the buffer can be reused.
			sink.Data(id, buf[:n])
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if waitReadable(sock.fd) != nil {
				break
			}
			continue
		}
		// EOF or a hard error; either way the channel is gone.
		break
	}

	s.mu.Lock()
	if s.conns[id] == sock {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	sock.close()
	sink.Closed(id)
}

// profileHandler implements org.bluez.Profile1. BlueZ calls NewConnection
// with the connected socket once a peer has reached the advertised service.
type profileHandler struct {
	stack *BlueZStack
}

// Release is called by BlueZ when the profile is being released.
func (h *profileHandler) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (h *profileHandler) Cancel() *dbus.Error { return nil }

// RequestDisconnection asks us to tear down the connection to a device.
func (h *profileHandler) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	remote, err := macFromDevicePath(string(dev))
	if err != nil {
		return nil
	}
	h.stack.mu.Lock()
	var socks []*rfcommSocket
	for _, sock := range h.stack.conns {
		if sock.remote == remote {
			socks = append(socks, sock)
		}
	}
	h.stack.mu.Unlock()
	for _, sock := range socks {
		sock.shutdown()
	}
	return nil
}

// NewConnection adopts the incoming RFCOMM socket: it assigns a channel id,
// reports the accept and starts the reader loop.
func (h *profileHandler) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	remote, err := macFromDevicePath(string(dev))
	if err != nil {
		logrus.WithField("device", string(dev)).Warn("rfcomm: cannot resolve peer address")
	}

	s := h.stack
	s.mu.Lock()
	sink := s.sink
	if sink == nil {
		s.mu.Unlock()
		unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"not started"}}
	}
	s.nextID++
	id := s.nextID
	sock := adoptSocket(int(fd), remote)
	s.conns[id] = sock
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"channel": id,
		"remote":  remote.String(),
	}).Info("rfcomm: connection accepted")

	sink.Accepted(id, remote)
	go s.readLoop(id, sock, sink)
	return nil
}
