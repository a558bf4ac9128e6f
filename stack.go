package rfcomm

// Stack is the native radio layer the bridge drives. Implementations own
// service advertisement and the raw channel I/O primitives; they report
// everything that happens on the radio through the EventSink handed to
// Start.
//
// Send and CloseChannel may be called from any goroutine. Send returns the
// number of bytes the native layer accepted, which may be less than len(p)
// (including zero) under backpressure; the bridge retries the remainder.
type Stack interface {
	// Start binds the event feed and initializes native resources. It is
	// called once by Bridge.Enable before any other method.
	Start(sink EventSink) error

	// Advertise registers a discoverable service under the given name and
	// UUID so peers can connect.
	Advertise(serviceName string, serviceUUID UUID) error

	// Send relays p to the peer on the given channel.
	Send(id int, p []byte) (int, error)

	// CloseChannel begins native teardown of the channel. Completion is
	// reported asynchronously through EventSink.Closed.
	CloseChannel(id int)

	// Stop tears down advertisement and any open channels.
	Stop() error
}

// EventSink is the feed a Stack delivers its events into. Implementations
// of Stack call it from their own threads, concurrently with application
// calls into the bridge; the bridge serializes internally.
//
// Closed blocks until every in-flight handler invocation for that id has
// completed; the stack must not reuse the id before Closed returns.
type EventSink interface {
	Accepted(id int, remote MAC)
	Data(id int, p []byte)
	Closed(id int)
	StackError(err error)
}
