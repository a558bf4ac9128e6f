package rfcomm

import "testing"

func TestParseMACRoundTrip(t *testing.T) {
	for _, s := range []string{"11:22:33:AA:BB:CC", "00:00:00:00:00:01", "FF:FF:FF:FF:FF:FF"} {
		mac, err := ParseMAC(s)
		if err != nil {
			t.Fatalf("ParseMAC(%q): %v", s, err)
		}
		if mac.String() != s {
			t.Errorf("expected %s but got %s", s, mac.String())
		}
	}
}

func TestParseMACLowerCase(t *testing.T) {
	lower, err := ParseMAC("11:22:33:aa:bb:cc")
	if err != nil {
		t.Fatal(err)
	}
	upper, _ := ParseMAC("11:22:33:AA:BB:CC")
	if lower != upper {
		t.Error("lower case MAC parsed differently from upper case")
	}
}

func TestParseMACInvalid(t *testing.T) {
	for _, s := range []string{"", "11:22:33:AA:BB", "11:22:33:AA:BB:CC:DD", "11:22:33:AA:BB:CG"} {
		if _, err := ParseMAC(s); err != errInvalidMAC {
			t.Errorf("ParseMAC(%q): expected errInvalidMAC but got %v", s, err)
		}
	}
}

func TestMACFromDevicePath(t *testing.T) {
	mac, err := macFromDevicePath("/org/bluez/hci0/dev_11_22_33_AA_BB_CC")
	if err != nil {
		t.Fatal(err)
	}
	if mac.String() != "11:22:33:AA:BB:CC" {
		t.Errorf("expected 11:22:33:AA:BB:CC but got %s", mac.String())
	}
	if _, err := macFromDevicePath("/org/bluez/hci0"); err == nil {
		t.Error("expected an error for a path without a device component")
	}
}
