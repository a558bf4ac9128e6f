package rfcomm

import "errors"

// This file implements 16-bit and 128-bit UUIDs as defined in the Bluetooth
// specification.

// UUID is a single UUID as used in the Bluetooth stack. It is represented
// as a [4]uint32 instead of a [16]byte for efficiency.
type UUID [4]uint32

// ServiceUUIDSerialPort is the Serial Port Profile service class UUID used
// for RFCOMM advertisement.
var ServiceUUIDSerialPort = New16BitUUID(0x1101)

var errInvalidUUID = errors.New("rfcomm: failed to parse UUID")

// New16BitUUID returns a new 128-bit UUID based on a 16-bit UUID, using the
// Bluetooth base UUID.
//
// Note: only use registered UUIDs. See
// https://www.bluetooth.com/specifications/assigned-numbers/ for a list.
func New16BitUUID(shortUUID uint16) UUID {
	var uuid UUID
	uuid[0] = 0x5F9B34FB
	uuid[1] = 0x80000080
	uuid[2] = 0x00001000
	uuid[3] = uint32(shortUUID)
	return uuid
}

// Is16Bit returns whether this UUID is a 16-bit Bluetooth UUID expanded
// with the base UUID.
func (uuid UUID) Is16Bit() bool {
	return uuid.Is32Bit() && uuid[3] == uint32(uint16(uuid[3]))
}

// Is32Bit returns whether this UUID is a 32-bit Bluetooth UUID expanded
// with the base UUID.
func (uuid UUID) Is32Bit() bool {
	return uuid[0] == 0x5F9B34FB && uuid[1] == 0x80000080 && uuid[2] == 0x00001000
}

// ParseUUID parses the given UUID, which must be in the canonical
// 00001101-0000-1000-8000-00805f9b34fb format. Both upper and lower case
// hex digits are accepted.
func ParseUUID(s string) (uuid UUID, err error) {
	uuidIndex := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			continue
		}
		var nibble uint32
		switch {
		case c >= '0' && c <= '9':
			nibble = uint32(c - '0')
		case c >= 'A' && c <= 'F':
			nibble = uint32(c-'A') + 0xA
		case c >= 'a' && c <= 'f':
			nibble = uint32(c-'a') + 0xA
		default:
			err = errInvalidUUID
			return
		}
		if uuidIndex >= 32 {
			err = errInvalidUUID
			return
		}
		// The first hex group lands in uuid[3], the last in uuid[0].
		uuid[3-uuidIndex/8] = uuid[3-uuidIndex/8]<<4 | nibble
		uuidIndex++
	}
	if uuidIndex != 32 {
		err = errInvalidUUID
	}
	return
}

// String returns the canonical 8-4-4-4-12 form of the UUID, in lower case.
func (uuid UUID) String() string {
	const hexDigit = "0123456789abcdef"
	var buf [36]byte
	n := 0
	for i := 0; i < 32; i++ {
		if i == 8 || i == 12 || i == 16 || i == 20 {
			buf[n] = '-'
			n++
		}
		word := uuid[3-i/8]
		shift := uint(28 - (i%8)*4)
		buf[n] = hexDigit[(word>>shift)&0xf]
		n++
	}
	return string(buf[:n])
}
