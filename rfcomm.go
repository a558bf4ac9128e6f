// Package rfcomm bridges a native Bluetooth radio stack and application
// code, exposing RFCOMM (serial-port-profile) channels as plain byte-stream
// endpoints.
//
// The bridge advertises a service, accepts incoming connections and relays
// bytes in both directions: the native stack reports connections, data and
// closures through an EventSink, and the application reacts through a pair
// of registered handlers and an explicit Write/Close API.
//
// On Linux the native stack is BlueZ, reached over D-Bus. Other platforms
// can plug in their own Stack implementation.
package rfcomm // import "github.com/btkit/rfcomm"
