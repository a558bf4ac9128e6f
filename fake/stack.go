// Package fake provides an in-memory Stack implementation for tests and
// demos. It records every call the bridge makes and lets the test drive the
// event feed directly, with no radio hardware involved.
package fake

import (
	"sync"

	"github.com/btkit/rfcomm"
)

// Service is one recorded Advertise call.
type Service struct {
	Name string
	UUID rfcomm.UUID
}

// Stack is a scriptable rfcomm.Stack. The error and limit fields configure
// failure injection and must be set before the call they affect; the Accept,
// Deliver, Drop and Fail methods push events into the bridge the way a
// native stack would, from whatever goroutine the test chooses.
type Stack struct {
	StartErr     error
	AdvertiseErr error
	SendErr      error

	// SendLimit caps the bytes accepted by a single Send call; zero means
	// unlimited. Used to simulate native backpressure.
	SendLimit int

	// ManualClose suppresses the Closed event normally emitted after
	// CloseChannel, so tests can observe the Closing window. Complete the
	// teardown with Drop.
	ManualClose bool

	mu         sync.Mutex
	sink       rfcomm.EventSink
	services   []Service
	sent       map[int][][]byte
	closeCalls map[int]int
	stopped    bool
}

// NewStack returns an idle fake stack.
func NewStack() *Stack {
	return &Stack{
		sent:       make(map[int][][]byte),
		closeCalls: make(map[int]int),
	}
}

func (s *Stack) Start(sink rfcomm.EventSink) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	s.mu.Lock()
	s.sink = sink
	s.stopped = false
	s.mu.Unlock()
	return nil
}

func (s *Stack) Advertise(serviceName string, serviceUUID rfcomm.UUID) error {
	if s.AdvertiseErr != nil {
		return s.AdvertiseErr
	}
	s.mu.Lock()
	s.services = append(s.services, Service{Name: serviceName, UUID: serviceUUID})
	s.mu.Unlock()
	return nil
}

func (s *Stack) Send(id int, p []byte) (int, error) {
	if s.SendErr != nil {
		return 0, s.SendErr
	}
	n := len(p)
	if s.SendLimit > 0 && n > s.SendLimit {
		n = s.SendLimit
	}
	buf := make([]byte, n)
	copy(buf, p[:n])
	s.mu.Lock()
	s.sent[id] = append(s.sent[id], buf)
	s.mu.Unlock()
	return n, nil
}

// CloseChannel records the call and, unless ManualClose is set, confirms
// the teardown asynchronously, like a real stack would.
func (s *Stack) CloseChannel(id int) {
	s.mu.Lock()
	s.closeCalls[id]++
	first := s.closeCalls[id] == 1
	manual := s.ManualClose
	s.mu.Unlock()
	if first && !manual {
		go s.Drop(id)
	}
}

func (s *Stack) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// Accept reports an incoming connection on the given channel id.
func (s *Stack) Accept(id int, remote rfcomm.MAC) {
	s.loadSink().Accepted(id, remote)
}

// Deliver reports received bytes for the given channel id.
func (s *Stack) Deliver(id int, p []byte) {
	s.loadSink().Data(id, p)
}

// Drop reports native teardown of the given channel id. It returns once the
// bridge has fully processed the closure, so afterwards the id is free for
// reuse.
func (s *Stack) Drop(id int) {
	s.loadSink().Closed(id)
}

// Fail reports a native stack malfunction.
func (s *Stack) Fail(err error) {
	s.loadSink().StackError(err)
}

// Sent returns the payloads the bridge handed to Send for the channel, in
// order.
func (s *Stack) Sent(id int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent[id]))
	copy(out, s.sent[id])
	return out
}

// SentBytes returns the concatenation of everything sent on the channel.
func (s *Stack) SentBytes(id int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, buf := range s.sent[id] {
		out = append(out, buf...)
	}
	return out
}

// CloseCalls returns how many times the bridge asked to close the channel.
func (s *Stack) CloseCalls(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls[id]
}

// Services returns the recorded Advertise calls.
func (s *Stack) Services() []Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Service, len(s.services))
	copy(out, s.services)
	return out
}

// Stopped reports whether Stop has been called.
func (s *Stack) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Stack) loadSink() rfcomm.EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		panic("fake: stack not started")
	}
	return s.sink
}
