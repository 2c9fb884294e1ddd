package radvd

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/prefix"
	"github.com/psaab/homegw/pkg/proc"
)

type fakeProcess int

func (p fakeProcess) Pid() int { return int(p) }

type fakeRunner struct {
	starts   [][]string
	startErr error
	kills    []int
	nextPid  int
}

func (r *fakeRunner) Output(context.Context, string, ...string) ([]byte, error) {
	return nil, nil
}

func (r *fakeRunner) Start(name string, args ...string) (proc.Process, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.starts = append(r.starts, append([]string{name}, args...))
	r.nextPid++
	return fakeProcess(1000 + r.nextPid), nil
}

func (r *fakeRunner) Kill(pid int, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return errors.New("unexpected signal")
	}
	r.kills = append(r.kills, pid)
	return nil
}

type recorder struct{ kinds []event.Kind }

func (r *recorder) sink(ev event.Event) { r.kinds = append(r.kinds, ev.Kind) }

func newTestController(t *testing.T, opts Options) (*Controller, *fakeRunner, *recorder) {
	t.Helper()
	if opts.RunDir == "" {
		opts.RunDir = t.TempDir()
	}
	r := &fakeRunner{}
	rec := &recorder{}
	return NewController("eth1", 3, opts, r, rec.sink), r, rec
}

func TestStartWithoutPrefixes(t *testing.T) {
	c, r, rec := newTestController(t, Options{})
	err := c.Start()
	if !errors.Is(err, ErrNoPrefixes) {
		t.Fatalf("err = %v, want ErrNoPrefixes", err)
	}
	if len(r.starts) != 0 {
		t.Errorf("daemon spawned: %v", r.starts)
	}
	if len(rec.kinds) != 0 {
		t.Errorf("events = %v", rec.kinds)
	}
	if _, err := os.Stat(c.ConfFile()); !os.IsNotExist(err) {
		t.Error("config written for empty prefix set")
	}
}

func TestStartStop(t *testing.T) {
	c, r, rec := newTestController(t, Options{Binary: "radvd"})
	c.AddPrefix(prefix.MustParse("2001:db8:abcd::/64"))

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !c.Running() || c.Pid() != 1001 {
		t.Errorf("running=%t pid=%d", c.Running(), c.Pid())
	}
	want := []string{"radvd", "-C", c.ConfFile(), "-p", c.pidFile, "-m", "logfile", "-l", c.logFile, "-d", "1"}
	if len(r.starts) != 1 || !slices.Equal(r.starts[0], want) {
		t.Errorf("starts = %v, want %v", r.starts, want)
	}
	if _, err := os.Stat(c.ConfFile()); err != nil {
		t.Errorf("config missing: %v", err)
	}

	c.Stop()
	if c.Running() {
		t.Error("still running after Stop")
	}
	if !slices.Equal(r.kills, []int{1001}) {
		t.Errorf("kills = %v", r.kills)
	}
	if _, err := os.Stat(c.ConfFile()); !os.IsNotExist(err) {
		t.Error("config not removed on Stop")
	}

	// Second stop is a no-op.
	c.Stop()
	if len(r.kills) != 1 {
		t.Errorf("kills = %v", r.kills)
	}
	wantKinds := []event.Kind{event.RaStarted, event.RaStopped}
	if !slices.Equal(rec.kinds, wantKinds) {
		t.Errorf("events = %v, want %v", rec.kinds, wantKinds)
	}
}

func TestStartFailure(t *testing.T) {
	c, r, rec := newTestController(t, Options{})
	c.AddPrefix(prefix.MustParse("2001:db8::/64"))
	r.startErr = errors.New("exec: not found")
	if err := c.Start(); err == nil {
		t.Fatal("expected error")
	}
	if c.Running() || len(rec.kinds) != 0 {
		t.Errorf("running=%t events=%v", c.Running(), rec.kinds)
	}
}

func TestAddDelPrefixIdempotent(t *testing.T) {
	c, _, _ := newTestController(t, Options{})
	p := prefix.MustParse("2001:db8:1::/64")
	if !c.AddPrefix(p) {
		t.Error("first add should change the set")
	}
	if c.AddPrefix(p) {
		t.Error("second add should be a no-op")
	}
	if len(c.Prefixes()) != 1 {
		t.Errorf("prefixes = %v", c.Prefixes())
	}
	if !c.DelPrefix(p) {
		t.Error("first del should change the set")
	}
	if c.DelPrefix(p) {
		t.Error("second del should be a no-op")
	}
}

func TestRestart(t *testing.T) {
	c, r, rec := newTestController(t, Options{})
	p1 := prefix.MustParse("2001:db8:1::/64")
	p2 := prefix.MustParse("2001:db8:2::/64")
	c.AddPrefix(p1)
	c.AddPrefix(p2)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	c.DelPrefix(p1)
	if err := c.Restart(); err != nil {
		t.Fatal(err)
	}
	if !c.Running() || len(r.starts) != 2 {
		t.Errorf("running=%t starts=%d", c.Running(), len(r.starts))
	}
	conf, err := os.ReadFile(c.ConfFile())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(conf), "2001:db8:1::/64") {
		t.Error("withdrawn prefix still announced")
	}

	c.DelPrefix(p2)
	if err := c.Restart(); err != nil {
		t.Fatal(err)
	}
	if c.Running() || len(r.starts) != 2 {
		t.Errorf("restart with no prefixes: running=%t starts=%d", c.Running(), len(r.starts))
	}
	want := []event.Kind{event.RaStarted, event.RaStopped, event.RaStarted, event.RaStopped}
	if !slices.Equal(rec.kinds, want) {
		t.Errorf("events = %v, want %v", rec.kinds, want)
	}
}

func TestGenerateConfig(t *testing.T) {
	c, _, _ := newTestController(t, Options{
		Lifetime:    90 * time.Second,
		MaxInterval: 4,
		MinInterval: 3,
		RDNSS:       []netip.Addr{netip.MustParseAddr("2001:db8::53")},
		DNSSL:       []string{"home.arpa", "example.net"},
	})
	c.AddPrefix(prefix.MustParse("2001:db8:abcd::/64"))
	c.AddPrefix(prefix.MustParse("2001:db8:abcd:1::/64"))
	got := c.generateConfig()

	for _, want := range []string{
		"interface eth1\n",
		"IgnoreIfMissing on;",
		"AdvSendAdvert on;",
		"MaxRtrAdvInterval 4;",
		"MinRtrAdvInterval 3;",
		"prefix 2001:db8:abcd::/64",
		"prefix 2001:db8:abcd:1::/64",
		"AdvOnLink on;",
		"AdvAutonomous on;",
		"AdvValidLifetime 90;",
		"AdvPreferredLifetime 90;",
		"DeprecatePrefix on;",
		"RDNSS 2001:db8::53",
		"DNSSL home.arpa example.net",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("config missing %q", want)
		}
	}
	if n := strings.Count(got, "    prefix "); n != 2 {
		t.Errorf("got %d prefix blocks, want 2", n)
	}
}

func TestGenerateConfigDefaults(t *testing.T) {
	c, _, _ := newTestController(t, Options{})
	c.AddPrefix(prefix.MustParse("2001:db8::/64"))
	got := c.generateConfig()
	if !strings.Contains(got, "AdvValidLifetime 120;") {
		t.Error("default lifetime not 120")
	}
	if strings.Contains(got, "RDNSS") || strings.Contains(got, "DNSSL") {
		t.Error("unexpected DNS options")
	}
	if strings.Contains(got, "MaxRtrAdvInterval") {
		t.Error("unexpected interval")
	}
}

func TestNewControllerKillsStaleDaemon(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "radvd.eth1.pid"), []byte("777"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &fakeRunner{}
	NewController("eth1", 3, Options{RunDir: dir}, r, nil)
	if !slices.Equal(r.kills, []int{777}) {
		t.Errorf("kills = %v", r.kills)
	}
}
