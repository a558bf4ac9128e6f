//go:build !linux

package rfcomm

import "errors"

var errNoPlatformStack = errors.New("rfcomm: no native stack for this platform")

// unsupportedStack backs DefaultBridge on platforms without a native
// implementation. Enable fails; an explicit Stack can still be injected
// through New.
type unsupportedStack struct{}

func defaultStack() Stack {
	return unsupportedStack{}
}

func (unsupportedStack) Start(EventSink) error         { return errNoPlatformStack }
func (unsupportedStack) Advertise(string, UUID) error  { return errNoPlatformStack }
func (unsupportedStack) Send(int, []byte) (int, error) { return 0, errNoPlatformStack }
func (unsupportedStack) CloseChannel(int)              {}
func (unsupportedStack) Stop() error                   { return nil }
