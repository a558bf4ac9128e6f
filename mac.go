package rfcomm

import (
	"errors"
	"strings"
)

// MAC represents a Bluetooth device address, in little endian format.
type MAC [6]byte

var errInvalidMAC = errors.New("rfcomm: failed to parse MAC address")

// ParseMAC parses the given MAC address, which must be in 11:22:33:AA:BB:CC
// format. Both upper and lower case hex digits are accepted. If it cannot
// be parsed, an error is returned.
func ParseMAC(s string) (mac MAC, err error) {
	macIndex := 11
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' {
			continue
		}
		var nibble byte
		switch {
		case c >= '0' && c <= '9':
			nibble = c - '0'
		case c >= 'A' && c <= 'F':
			nibble = c - 'A' + 0xA
		case c >= 'a' && c <= 'f':
			nibble = c - 'a' + 0xA
		default:
			err = errInvalidMAC
			return
		}
		if macIndex < 0 {
			err = errInvalidMAC
			return
		}
		if macIndex%2 == 0 {
			mac[macIndex/2] |= nibble
		} else {
			mac[macIndex/2] |= nibble << 4
		}
		macIndex--
	}
	if macIndex != 0 {
		err = errInvalidMAC
	}
	return
}

// macFromDevicePath extracts the peer address from a BlueZ device object
// path such as /org/bluez/hci0/dev_11_22_33_AA_BB_CC.
func macFromDevicePath(path string) (MAC, error) {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return MAC{}, errInvalidMAC
	}
	return ParseMAC(strings.ReplaceAll(path[idx+5:], "_", ":"))
}

// String returns a human-readable version of this MAC address, such as
// 11:22:33:AA:BB:CC.
func (mac MAC) String() string {
	var buf [17]byte
	n := 0
	for i := 5; i >= 0; i-- {
		if i != 5 {
			buf[n] = ':'
			n++
		}
		c := mac[i]
		for _, nibble := range []byte{c >> 4, c & 0x0f} {
			if nibble <= 9 {
				buf[n] = nibble + '0'
			} else {
				buf[n] = nibble + 'A' - 10
			}
			n++
		}
	}
	return string(buf[:n])
}
