package rfcomm

import (
	"strings"
	"testing"
)

func TestUUIDString(t *testing.T) {
	checkUUID(t, New16BitUUID(0x1234), "00001234-0000-1000-8000-00805f9b34fb")
	checkUUID(t, ServiceUUIDSerialPort, "00001101-0000-1000-8000-00805f9b34fb")
}

func checkUUID(t *testing.T, uuid UUID, check string) {
	t.Helper()
	if uuid.String() != check {
		t.Errorf("expected UUID %s but got %s", check, uuid.String())
	}
}

func TestParseUUIDTooSmall(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805f9b34f")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseUUIDTooLarge(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805F9B34FB0")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestStringUUID(t *testing.T) {
	uuidString := "00001234-0000-1000-8000-00805f9b34fb"
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if u.String() != uuidString {
		t.Errorf("expected %s but got %s", uuidString, u.String())
	}
	if !u.Is16Bit() {
		t.Error("expected a 16-bit UUID")
	}
}

func TestStringUUIDUpperCase(t *testing.T) {
	uuidString := strings.ToUpper("00001234-0000-1000-8000-00805f9b34fb")
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if !strings.EqualFold(u.String(), uuidString) {
		t.Errorf("%s does not match %s ignoring case", uuidString, u.String())
	}
}

func TestParseCustomUUID(t *testing.T) {
	// Not derived from the Bluetooth base UUID.
	uuidString := "185f3df4-3268-4e3f-9fca-d4d5059915bd"
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if u.Is32Bit() {
		t.Error("custom UUID reported as base-derived")
	}
	if u.String() != uuidString {
		t.Errorf("expected %s but got %s", uuidString, u.String())
	}
}
