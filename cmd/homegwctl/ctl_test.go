package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/logging"
	"github.com/psaab/homegw/pkg/rpc"
)

func testView() view {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return view{
		Status: controller.Status{
			Updated: now,
			Links: []controller.LinkStatus{
				{Name: "ge0", Index: 2, Role: "wan", OperUp: true, RaAttached: true, PrefixIndex: -1},
				{Name: "lan0", Index: 3, Role: "lan", OperUp: true, PrefixIndex: 0},
			},
			Addresses: []controller.AddressStatus{{Link: "lan0", Address: "2001:db8:abcd::1/64"}},
			Routes:    []controller.RouteStatus{{Link: "ge0", Dst: "::/0", Gateway: "fe80::1", Table: 254}},
			Prefixes: []controller.DelegationStatus{
				{Link: "ge0", State: "attached", Prefixes: []string{"2001:db8:abcd::/56"}},
			},
			Radvd: []controller.RadvdStatus{
				{Link: "lan0", Running: true, Pid: 1001, Config: "/run/homegw/radvd-lan0.conf", Prefixes: []string{"2001:db8:abcd::/64"}},
			},
			Tunnels: []controller.TunnelStatus{{
				Device: "l2tp0", Type: "l2tp", Subprefix: "2001:db8:abcd:1::/64",
				ClientIP: "2001:db8:abcd:1::2", RouterIP: "2001:db8:abcd:1::1",
				TunnelID: 10, SessionID: 1, LocalPort: 1701,
				PeerIP: "2001:db8:ffff::1", PeerPort: 1701, PeerTunnelID: 77, PeerSessionID: 5,
			}},
		},
		Events: []logging.EventRecord{
			{Seq: 3, Time: now, Kind: "prefix-attached", Link: "ge0", Detail: "2001:db8:abcd::/56"},
			{Seq: 2, Time: now, Kind: "link-added", Link: "lan0"},
			{Seq: 1, Time: now, Kind: "link-added", Link: "ge0"},
		},
	}
}

func newTestCtl(t *testing.T) (*ctl, *bytes.Buffer) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	v := testView()
	rpc.RegisterStatus(srv, func() any { return v })
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := rpc.Dial(ctx, "passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var out bytes.Buffer
	return &ctl{client: rpc.NewStatusClient(conn), out: &out, timeout: 5 * time.Second}, &out
}

func TestShowSections(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"show links", []string{"ge0", "wan", "lan0", "Prefix index"}},
		{"sh addr", []string{"2001:db8:abcd::1/64", "global"}},
		{"show routes", []string{"::/0", "fe80::1", "254"}},
		{"show prefixes", []string{"ge0: attached", "2001:db8:abcd::/56"}},
		{"show radvd", []string{"lan0: running (pid 1001)", "radvd-lan0.conf", "prefix 2001:db8:abcd::/64"}},
		{"show tunnels", []string{"l2tp0 (l2tp)", "peer 2001:db8:ffff::1 port 1701 tunnel 77 session 5"}},
		{"show all", []string{"Links:", "Tunnels:", "l2tp0"}},
	}
	for _, tt := range tests {
		c, out := newTestCtl(t)
		if err := c.dispatch(tt.line); err != nil {
			t.Fatalf("%q: %v", tt.line, err)
		}
		for _, w := range tt.want {
			if !strings.Contains(out.String(), w) {
				t.Errorf("%q: output missing %q:\n%s", tt.line, w, out.String())
			}
		}
	}
}

func TestShowLinksUplinkIndex(t *testing.T) {
	c, out := newTestCtl(t)
	if err := c.dispatch("show links"); err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(out.String(), "\n") {
		f := strings.Fields(line)
		if len(f) > 0 && f[0] == "ge0" && f[len(f)-1] != "-" {
			t.Errorf("uplink prefix index = %q, want -", f[len(f)-1])
		}
	}
}

func TestShowEvents(t *testing.T) {
	c, out := newTestCtl(t)
	if err := c.dispatch("show events"); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	first := strings.Index(s, "link-added")
	last := strings.Index(s, "prefix-attached")
	if first < 0 || last < 0 || first > last {
		t.Errorf("events not oldest first:\n%s", s)
	}

	out.Reset()
	if err := c.dispatch("show events lan0"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "ge0") || !strings.Contains(out.String(), "lan0") {
		t.Errorf("link filter not applied:\n%s", out.String())
	}

	out.Reset()
	if err := c.dispatch("show events dmz9"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No events") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDispatchCommands(t *testing.T) {
	c, out := newTestCtl(t)
	if err := c.dispatch("exit"); err != errExit {
		t.Errorf("exit = %v", err)
	}
	if err := c.dispatch("help"); err != nil || !strings.Contains(out.String(), "show") {
		t.Errorf("help = %v, %q", err, out.String())
	}
	if err := c.dispatch("reboot"); err == nil {
		t.Error("expected unknown command error")
	}
	if err := c.dispatch("show links extra"); err == nil {
		t.Error("expected argument error")
	}

	out.Reset()
	if err := c.dispatch("show ?"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "tunnels") {
		t.Errorf("context help = %q", out.String())
	}
}

func TestCompleter(t *testing.T) {
	c, _ := newTestCtl(t)
	rc := &completer{ctl: c}

	got, n := rc.Do([]rune("show tu"), len("show tu"))
	if n != 2 || len(got) != 1 || string(got[0]) != "nnels " {
		t.Errorf("got %q, %d", got, n)
	}

	got, n = rc.Do([]rune("show events l"), len("show events l"))
	if n != 1 || len(got) != 1 || string(got[0]) != "an0 " {
		t.Errorf("got %q, %d", got, n)
	}

	got, _ = rc.Do([]rune("bogus "), len("bogus "))
	if got != nil {
		t.Errorf("got %q for unknown command", got)
	}
}

func TestShowEmpty(t *testing.T) {
	var out bytes.Buffer
	showLinks(&out, nil)
	showTunnels(&out, nil)
	showRadvd(&out, []controller.RadvdStatus{{Link: "lan0"}})
	s := out.String()
	for _, w := range []string{"No links tracked", "No tunnels", "lan0: stopped"} {
		if !strings.Contains(s, w) {
			t.Errorf("missing %q in %q", w, s)
		}
	}
}
