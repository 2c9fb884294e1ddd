package prefix

import (
	"errors"
	"net/netip"
	"testing"
)

func TestSubprefix(t *testing.T) {
	base := MustParse("2001:db8:abcd::/56")

	tests := []struct {
		n    int
		want string
	}{
		{0, "2001:db8:abcd::/64"},
		{1, "2001:db8:abcd:1::/64"},
		{15, "2001:db8:abcd:f::/64"},
		{255, "2001:db8:abcd:ff::/64"},
	}
	for _, tt := range tests {
		got, err := Subprefix(base, tt.n)
		if err != nil {
			t.Fatalf("Subprefix(%s, %d): %v", base, tt.n, err)
		}
		if got.String() != tt.want {
			t.Errorf("Subprefix(%s, %d) = %s, want %s", base, tt.n, got, tt.want)
		}
	}
}

func TestSubprefix_Deterministic(t *testing.T) {
	base := MustParse("2001:db8:1200::/48")
	a, err := base.Subprefix(42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := base.Subprefix(42)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same input gave %s and %s", a, b)
	}
}

func TestSubprefix_Injective(t *testing.T) {
	base := MustParse("2001:db8:abcd::/56")
	seen := make(map[Prefix]int)
	for n := 0; n < 256; n++ {
		p, err := base.Subprefix(n)
		if err != nil {
			t.Fatalf("index %d: %v", n, err)
		}
		if prev, ok := seen[p]; ok {
			t.Fatalf("index %d and %d both map to %s", prev, n, p)
		}
		seen[p] = n
	}
}

func TestSubprefix_Errors(t *testing.T) {
	tests := []struct {
		name string
		base string
		n    int
		want error
	}{
		{"longer than /64", "2001:db8::/80", 0, ErrNoSubnets},
		{"negative index", "2001:db8:abcd::/56", -1, ErrIndexOutOfRange},
		{"index equals space", "2001:db8:abcd::/56", 256, ErrIndexOutOfRange},
		{"single /64 index 1", "2001:db8::/64", 1, ErrIndexOutOfRange},
		{"space above 2^16", "2001:db8::/40", 0, ErrIndexOutOfRange},
		{"zero length", "::/0", 0, ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Subprefix(MustParse(tt.base), tt.n)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubprefix_Slash48Boundary(t *testing.T) {
	base := MustParse("2001:db8:1::/48")
	p, err := base.Subprefix(65535)
	if err != nil {
		t.Fatalf("/48 index 65535: %v", err)
	}
	if p.String() != "2001:db8:1:ffff::/64" {
		t.Errorf("got %s", p)
	}
}

func TestSubprefix_Slash64(t *testing.T) {
	base := MustParse("2001:db8:5::/64")
	p, err := base.Subprefix(0)
	if err != nil {
		t.Fatal(err)
	}
	if p != base {
		t.Errorf("got %s, want %s", p, base)
	}
}

func TestHost(t *testing.T) {
	p := MustParse("2001:db8:abcd:1::/64")
	if got := p.Host(1); got != netip.MustParseAddr("2001:db8:abcd:1::1") {
		t.Errorf("Host(1) = %s", got)
	}
	if got := p.Host(2); got != netip.MustParseAddr("2001:db8:abcd:1::2") {
		t.Errorf("Host(2) = %s", got)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("10.0.0.0/8"); err == nil {
		t.Error("IPv4 prefix accepted")
	}
	if _, err := Parse("garbage"); err == nil {
		t.Error("garbage accepted")
	}
	p, err := Parse("2001:db8::/56")
	if err != nil {
		t.Fatal(err)
	}
	if p.Bits != 56 {
		t.Errorf("bits = %d", p.Bits)
	}
}

func TestAppendUnique(t *testing.T) {
	a := MustParse("2001:db8:1::/56")
	b := MustParse("2001:db8:2::/56")
	var list []Prefix
	list = AppendUnique(list, a)
	list = AppendUnique(list, b)
	list = AppendUnique(list, MustParse("2001:db8:1::/56"))
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if !Contains(list, b) {
		t.Error("missing b")
	}
}

func TestHostBitsIgnored(t *testing.T) {
	loose := MustParse("2001:db8:abcd:1::/56")
	block := MustParse("2001:db8:abcd::/56")
	if loose != block {
		t.Errorf("%s != %s", loose, block)
	}
	if got := New(netip.MustParseAddr("2001:db8:abcd:ff::5"), 56); got != block {
		t.Errorf("New = %s, want %s", got, block)
	}

	last, err := Subprefix(loose, 255)
	if err != nil {
		t.Fatal(err)
	}
	if want := MustParse("2001:db8:abcd:ff::/64"); last != want {
		t.Errorf("Subprefix(255) = %s, want %s", last, want)
	}
	if !block.Netip().Contains(last.Addr) {
		t.Errorf("%s escapes %s", last, block)
	}

	raw := Prefix{Addr: netip.MustParseAddr("2001:db8:abcd:1::"), Bits: 56}
	first, err := Subprefix(raw, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := MustParse("2001:db8:abcd::/64"); first != want {
		t.Errorf("Subprefix(0) = %s, want %s", first, want)
	}
}
