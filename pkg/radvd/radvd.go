// Package radvd runs one router advertisement daemon per downlink.
package radvd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/prefix"
	"github.com/psaab/homegw/pkg/proc"
)

// ErrNoPrefixes is returned by Start when there is nothing to announce.
var ErrNoPrefixes = errors.New("no prefixes to announce")

const (
	DefaultBinary   = "/usr/sbin/radvd"
	DefaultRunDir   = "/run/homegw"
	DefaultLifetime = 120 * time.Second
)

// Options are the settings shared by every downlink's daemon.
type Options struct {
	Binary      string
	RunDir      string
	Lifetime    time.Duration
	MaxInterval int // seconds
	MinInterval int // seconds
	RDNSS       []netip.Addr
	DNSSL       []string
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.RunDir == "" {
		o.RunDir = DefaultRunDir
	}
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultLifetime
	}
	return o
}

// Controller manages the radvd instance of one downlink. It is driven
// only from the controller loop.
type Controller struct {
	dev     string
	ifindex int
	opts    Options
	runner  proc.Runner
	emit    event.Sink

	confFile string
	pidFile  string
	logFile  string

	prefixes []prefix.Prefix
	process  proc.Process
}

// NewController creates the controller for dev. A daemon left running
// by a previous controller run is killed.
func NewController(dev string, ifindex int, opts Options, runner proc.Runner, emit event.Sink) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		dev:      dev,
		ifindex:  ifindex,
		opts:     opts,
		runner:   runner,
		emit:     emit,
		confFile: filepath.Join(opts.RunDir, "radvd."+dev+".conf"),
		pidFile:  filepath.Join(opts.RunDir, "radvd."+dev+".pid"),
		logFile:  filepath.Join(opts.RunDir, "radvd."+dev+".log"),
	}
	if pid, err := proc.ReadPidFile(c.pidFile); err == nil {
		if err := runner.Kill(pid, syscall.SIGKILL); err == nil {
			slog.Info("radvd: killed stale daemon", "link", dev, "pid", pid)
		}
	}
	return c
}

// Dev returns the downlink device name.
func (c *Controller) Dev() string { return c.dev }

// ConfFile returns the path of the generated configuration.
func (c *Controller) ConfFile() string { return c.confFile }

// Running reports whether a daemon has been started and not stopped.
func (c *Controller) Running() bool { return c.process != nil }

// Pid returns the daemon's pid, or 0 when not running.
func (c *Controller) Pid() int {
	if c.process == nil {
		return 0
	}
	return c.process.Pid()
}

// Prefixes returns the announced prefix set.
func (c *Controller) Prefixes() []prefix.Prefix { return slices.Clone(c.prefixes) }

// SetIfindex updates the kernel index carried on emitted events.
func (c *Controller) SetIfindex(ifindex int) { c.ifindex = ifindex }

// AddPrefix adds p to the announced set. It reports whether the set changed.
func (c *Controller) AddPrefix(p prefix.Prefix) bool {
	if prefix.Contains(c.prefixes, p) {
		return false
	}
	c.prefixes = append(c.prefixes, p)
	return true
}

// DelPrefix removes p from the announced set. It reports whether the set changed.
func (c *Controller) DelPrefix(p prefix.Prefix) bool {
	n := len(c.prefixes)
	c.prefixes = slices.DeleteFunc(c.prefixes, func(q prefix.Prefix) bool { return q == p })
	return len(c.prefixes) != n
}

// Start writes the configuration and spawns the daemon.
func (c *Controller) Start() error {
	if len(c.prefixes) == 0 {
		slog.Warn("radvd: no prefixes, not starting", "link", c.dev)
		return ErrNoPrefixes
	}
	if c.process != nil {
		slog.Debug("radvd: already running", "link", c.dev, "pid", c.process.Pid())
		return nil
	}

	if err := os.MkdirAll(c.opts.RunDir, 0755); err != nil {
		return fmt.Errorf("radvd run dir: %w", err)
	}
	if err := os.WriteFile(c.confFile, []byte(c.generateConfig()), 0644); err != nil {
		return fmt.Errorf("write radvd config: %w", err)
	}

	p, err := c.runner.Start(c.opts.Binary, c.Args()...)
	if err != nil {
		return fmt.Errorf("start radvd on %s: %w", c.dev, err)
	}
	c.process = p
	slog.Info("radvd started", "link", c.dev, "pid", p.Pid(), "prefixes", c.prefixes)
	c.post(event.RaStarted)
	return nil
}

// Stop kills the daemon and removes its configuration. Stopping a
// controller that is not running does nothing.
func (c *Controller) Stop() {
	if c.process == nil {
		return
	}
	pid := c.process.Pid()
	if err := c.runner.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, proc.ErrNotRunning) {
		slog.Warn("radvd: kill failed", "link", c.dev, "pid", pid, "err", err)
	}
	c.process = nil
	if err := os.Remove(c.confFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("radvd: remove config", "path", c.confFile, "err", err)
	}
	slog.Info("radvd stopped", "link", c.dev, "pid", pid)
	c.post(event.RaStopped)
}

// Restart regenerates the daemon's configuration from the current
// prefix set. The daemon stays stopped when the set is empty.
func (c *Controller) Restart() error {
	c.Stop()
	if len(c.prefixes) == 0 {
		return nil
	}
	return c.Start()
}

// Args returns the daemon command line.
func (c *Controller) Args() []string {
	return []string{"-C", c.confFile, "-p", c.pidFile, "-m", "logfile", "-l", c.logFile, "-d", "1"}
}

func (c *Controller) generateConfig() string {
	var b strings.Builder

	b.WriteString("# homegw managed radvd config - do not edit\n\n")
	fmt.Fprintf(&b, "interface %s\n{\n", c.dev)
	b.WriteString("    IgnoreIfMissing on;\n")
	b.WriteString("    AdvSendAdvert on;\n")
	if c.opts.MaxInterval > 0 {
		fmt.Fprintf(&b, "    MaxRtrAdvInterval %d;\n", c.opts.MaxInterval)
	}
	if c.opts.MinInterval > 0 {
		fmt.Fprintf(&b, "    MinRtrAdvInterval %d;\n", c.opts.MinInterval)
	}
	b.WriteString("\n")

	lifetime := int(c.opts.Lifetime / time.Second)
	for _, p := range c.prefixes {
		fmt.Fprintf(&b, "    prefix %s\n    {\n", p)
		b.WriteString("        AdvOnLink on;\n")
		b.WriteString("        AdvAutonomous on;\n")
		fmt.Fprintf(&b, "        AdvValidLifetime %d;\n", lifetime)
		fmt.Fprintf(&b, "        AdvPreferredLifetime %d;\n", lifetime)
		b.WriteString("        DeprecatePrefix on;\n")
		b.WriteString("    };\n\n")
	}

	if len(c.opts.RDNSS) > 0 {
		b.WriteString("    RDNSS")
		for _, dns := range c.opts.RDNSS {
			fmt.Fprintf(&b, " %s", dns)
		}
		b.WriteString("\n    {\n    };\n\n")
	}
	if len(c.opts.DNSSL) > 0 {
		fmt.Fprintf(&b, "    DNSSL %s\n    {\n    };\n\n", strings.Join(c.opts.DNSSL, " "))
	}

	b.WriteString("};\n")
	return b.String()
}

func (c *Controller) post(kind event.Kind) {
	if c.emit == nil {
		return
	}
	c.emit(event.Event{Kind: kind, Ifindex: c.ifindex, Devname: c.dev})
}
