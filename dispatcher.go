package rfcomm

type eventKind uint8

const (
	eventConnect eventKind = iota
	eventData
	eventClose
)

// event is the normalized form of a native stack callback. Ingestion turns
// foreign-thread calls into these values so that handler invocation is plain
// message passing rather than a direct foreign call into application code.
type event struct {
	kind eventKind
	data []byte
}

// dispatchLoop drains one channel's event queue and invokes the registered
// handlers. There is exactly one loop per channel, so invocations for a
// single id are never concurrent with each other and arrive in ingest
// order, while channels dispatch independently of one another.
//
// The loop exits on the close sentinel; closing done afterwards is what
// Closed ingestion waits on before evicting the registry entry.
func (b *Bridge) dispatchLoop(c *channel) {
	defer close(c.done)
	for ev := range c.events {
		switch ev.kind {
		case eventConnect:
			// Only announce channels the registry still shows as Open.
			if c.getState() != channelOpen {
				continue
			}
			if fn := b.connectHandler.Load(); fn != nil {
				(*fn)(Channel{ID: c.id, Remote: c.remote})
			}
		case eventData:
			// Data may still arrive while Closing: the application may
			// have initiated the close before the stack finished tearing
			// the link down.
			if c.getState() == channelClosed {
				continue
			}
			if fn := b.dataHandler.Load(); fn != nil {
				(*fn)(Channel{ID: c.id, Remote: c.remote}, ev.data)
			}
		case eventClose:
			return
		}
	}
}
