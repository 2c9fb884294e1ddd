package netcfg

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAcceptRA(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "net", "ipv6", "conf", "ge0")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := WriteAcceptRA(root, "ge0", AcceptRAAlways); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "accept_ra"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "2\n" {
		t.Errorf("accept_ra = %q, want \"2\\n\"", data)
	}
}

func TestWriteAcceptRA_Invalid(t *testing.T) {
	if err := WriteAcceptRA(t.TempDir(), "ge0", 3); err == nil {
		t.Error("value 3 should be rejected")
	}
}

func TestWriteAcceptRA_MissingDevice(t *testing.T) {
	if err := WriteAcceptRA(t.TempDir(), "nosuch0", AcceptRAOff); err == nil {
		t.Error("missing device directory should fail")
	}
}

func TestPrefixToIPNet(t *testing.T) {
	n := prefixToIPNet(netip.MustParsePrefix("2001:db8:abcd::1/64"))
	if n.String() != "2001:db8:abcd::1/64" {
		t.Errorf("got %s", n)
	}
	ones, bits := n.Mask.Size()
	if ones != 64 || bits != 128 {
		t.Errorf("mask = %d/%d", ones, bits)
	}

	v4 := prefixToIPNet(netip.MustParsePrefix("192.0.2.1/24"))
	if _, bits := v4.Mask.Size(); bits != 32 {
		t.Errorf("v4 mask bits = %d", bits)
	}
}
