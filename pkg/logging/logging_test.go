package logging

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"error", SyslogError},
		{"warning", SyslogWarning},
		{"WARN", SyslogWarning},
		{"notice", SyslogNotice},
		{"info", SyslogInfo},
		{"debug", SyslogDebug},
		{"unknown", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.name); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestParseFacility(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"kern", FacilityKern},
		{"user", FacilityUser},
		{"daemon", FacilityDaemon},
		{"local0", FacilityLocal0},
		{"local7", FacilityLocal7},
		{"local8", FacilityDaemon},
		{"bogus", FacilityDaemon},
		{"", FacilityDaemon},
	}
	for _, tt := range tests {
		if got := ParseFacility(tt.name); got != tt.want {
			t.Errorf("ParseFacility(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestShouldSend(t *testing.T) {
	c := &SyslogClient{}
	if !c.ShouldSend(SyslogDebug) {
		t.Error("no filter should pass debug")
	}
	c.MinSeverity = SyslogWarning
	if !c.ShouldSend(SyslogError) || !c.ShouldSend(SyslogWarning) {
		t.Error("warning filter should pass error and warning")
	}
	if c.ShouldSend(SyslogInfo) {
		t.Error("warning filter should drop info")
	}
}

func listen(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc, pc.LocalAddr().(*net.UDPAddr).Port
}

func readPacket(t *testing.T, pc net.PacketConn) string {
	t.Helper()
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(buf[:n])
}

func TestSyslogSendReceive(t *testing.T) {
	pc, port := listen(t)
	client, err := NewSyslogClient("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Send(SyslogWarning, "test message"); err != nil {
		t.Fatal(err)
	}
	got := readPacket(t, pc)
	// daemon(3)*8 + warning(4) = 28
	if !strings.HasPrefix(got, "<28>") {
		t.Errorf("unexpected priority prefix: %q", got)
	}
	if !strings.Contains(got, "homegw[") || !strings.HasSuffix(got, "]: test message") {
		t.Errorf("message not found in %q", got)
	}
}

func TestSyslogFacilityInPriority(t *testing.T) {
	pc, port := listen(t)
	client, err := NewSyslogClient("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.Facility = FacilityLocal0

	if err := client.Send(SyslogError, "error msg"); err != nil {
		t.Fatal(err)
	}
	// 16*8 + 3 = 131
	if got := readPacket(t, pc); !strings.HasPrefix(got, "<131>") {
		t.Errorf("unexpected priority for local0+error: %q", got)
	}
}

func TestSlogHandlerForwards(t *testing.T) {
	pc, port := listen(t)
	client, err := NewSyslogClient("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	client.MinSeverity = SyslogWarning

	var base bytes.Buffer
	h := NewSyslogSlogHandler(slog.NewTextHandler(&base, &slog.HandlerOptions{Level: slog.LevelDebug}))
	defer h.Close()
	logger := slog.New(h).With("link", "ge0").WithGroup("dhcp")

	// Clients set after With still apply to the derived logger.
	h.SetClients([]*SyslogClient{client})

	logger.Info("filtered out")
	logger.Warn("lease lost", "reason", "EXPIRE")

	got := readPacket(t, pc)
	if !strings.Contains(got, "lease lost link=ge0 dhcp.reason=EXPIRE") {
		t.Errorf("syslog line = %q", got)
	}
	if strings.Contains(got, "filtered out") {
		t.Error("info record forwarded past warning filter")
	}
	if !strings.Contains(base.String(), "filtered out") || !strings.Contains(base.String(), "lease lost") {
		t.Errorf("base handler output = %q", base.String())
	}
}

func TestEventBuffer(t *testing.T) {
	eb := NewEventBuffer(3)
	sub := eb.Subscribe(8)
	defer sub.Close()

	for _, k := range []string{"ra-attached", "prefix-attached", "radvd-started", "ra-detached"} {
		eb.Add(EventRecord{Kind: k, Link: "ge0"})
	}
	eb.Add(EventRecord{Kind: "radvd-started", Link: "ge1"})

	latest := eb.Latest(10)
	if len(latest) != 3 {
		t.Fatalf("got %d events, want 3", len(latest))
	}
	if latest[0].Seq != 5 || latest[0].Link != "ge1" {
		t.Errorf("newest = %+v", latest[0])
	}
	if latest[2].Kind != "radvd-started" || latest[2].Seq != 3 {
		t.Errorf("oldest = %+v", latest[2])
	}
	if eb.Seq() != 5 {
		t.Errorf("seq = %d", eb.Seq())
	}

	got := eb.LatestFiltered(10, EventFilter{Link: "ge0", Kind: "DETACHED"})
	if len(got) != 1 || got[0].Kind != "ra-detached" {
		t.Errorf("filtered = %+v", got)
	}

	if len(sub.C) != 5 {
		t.Errorf("subscriber got %d events, want 5", len(sub.C))
	}
	if (<-sub.C).Time.IsZero() {
		t.Error("time not stamped")
	}
}
