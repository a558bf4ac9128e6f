package rfcomm

import (
	"github.com/sirupsen/logrus"
)

// eventSink adapts the Bridge to the EventSink interface handed to the
// native stack. It is the only entry point stack threads use; everything it
// does is normalize the event and hand it to the registry and dispatcher.
type eventSink struct {
	b *Bridge
}

func (s *eventSink) Accepted(id int, remote MAC) {
	c, err := s.b.registry.register(id, remote)
	if err != nil {
		// Stack contract violation: an accept for an id that is already
		// open or closing. Drop the event, leave the original channel be.
		logrus.WithField("channel", id).Warn("rfcomm: dropping accept for duplicate channel id")
		return
	}
	go s.b.dispatchLoop(c)
	c.enqueue(event{kind: eventConnect})
}

func (s *eventSink) Data(id int, p []byte) {
	if len(p) == 0 {
		// Malformed event, another stack contract violation.
		logrus.WithField("channel", id).Debug("rfcomm: dropping empty data event")
		return
	}
	c := s.b.registry.lookup(id)
	if c == nil {
		logrus.WithField("channel", id).Debug("rfcomm: dropping data for unknown channel")
		return
	}
	if c.getState() == channelClosed {
		return
	}
	// The stack may reuse its buffer as soon as we return; copy before the
	// payload crosses onto the dispatch queue.
	buf := make([]byte, len(p))
	copy(buf, p)
	c.enqueue(event{kind: eventData, data: buf})
}

// Closed drains the channel's in-flight handler invocations and evicts the
// registry entry. The native stack may only reuse the id after this
// returns; channels other than id are not blocked.
func (s *eventSink) Closed(id int) {
	c := s.b.registry.lookup(id)
	if c == nil {
		logrus.WithField("channel", id).Debug("rfcomm: dropping close for unknown channel")
		return
	}
	c.setClosing()
	c.sendCloseEvent()
	<-c.done
	c.finalize()
	s.b.registry.evict(c)
}

func (s *eventSink) StackError(err error) {
	s.b.reportError(err)
}
