// Package dhcp drives DHCPv6 prefix delegation on an uplink.
package dhcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/prefix"
	"github.com/psaab/homegw/pkg/proc"
)

// ErrNoLease is returned by Request when the exchange ended without a
// delegated prefix.
var ErrNoLease = errors.New("no prefix delegated")

// State is the prefix delegation state of one uplink. Renewing and
// Expiring report the last lease event: Renewing holds prefixes extended
// by RENEW6/REBIND6, Expiring holds none after EXPIRE/FAIL and lasts
// until the next request.
type State int

const (
	Detached State = iota
	Requesting
	Attached
	Renewing
	Expiring
)

// Bound reports whether s holds delegated prefixes.
func (s State) Bound() bool { return s == Attached || s == Renewing }

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Requesting:
		return "requesting"
	case Attached:
		return "attached"
	case Renewing:
		return "renewing"
	case Expiring:
		return "expiring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend performs the DHCPv6 exchange for a device.
type Backend interface {
	// Request runs a single-shot PD request and returns the lease event
	// records it produced, one per line.
	Request(ctx context.Context, dev, pidFile string) ([]byte, error)
	// Release gives back the delegated prefixes.
	Release(ctx context.Context, dev, pidFile string) error
}

// PidFile returns the per-device client pid file under stateDir.
func PidFile(stateDir, dev string) string {
	return filepath.Join(stateDir, "dhclient6."+dev+".pid")
}

// Client is the prefix delegation state machine for one uplink. It is
// driven only from the controller loop and is not safe for concurrent use.
type Client struct {
	dev     string
	ifindex int
	pidFile string
	backend Backend
	runner  proc.Runner
	emit    event.Sink

	state       State
	oldPrefixes []prefix.Prefix
	newPrefixes []prefix.Prefix
	bound       []prefix.Prefix
}

// NewClient creates the client for dev and terminates any client left
// behind by a previous controller run.
func NewClient(dev string, ifindex int, stateDir string, backend Backend, runner proc.Runner, emit event.Sink) *Client {
	c := &Client{
		dev:     dev,
		ifindex: ifindex,
		pidFile: PidFile(stateDir, dev),
		backend: backend,
		runner:  runner,
		emit:    emit,
	}
	c.Kill()
	return c
}

// Dev returns the uplink device name.
func (c *Client) Dev() string { return c.dev }

// State returns the current delegation state.
func (c *Client) State() State { return c.state }

// Prefixes returns the currently bound delegated prefixes.
func (c *Client) Prefixes() []prefix.Prefix { return slices.Clone(c.bound) }

// SetIfindex updates the kernel index carried on emitted events.
func (c *Client) SetIfindex(ifindex int) { c.ifindex = ifindex }

// Request runs the DHCPv6 client and applies every lease record it
// reports. It returns ErrNoLease if no prefix ended up bound.
func (c *Client) Request(ctx context.Context) error {
	c.state = Requesting
	c.oldPrefixes = nil
	c.newPrefixes = nil

	slog.Info("DHCPv6: requesting prefix delegation", "interface", c.dev)
	out, err := c.backend.Request(ctx, c.dev, c.pidFile)
	if err != nil {
		slog.Warn("DHCPv6: request failed", "interface", c.dev, "err", err)
	}

	for _, rec := range ParseRecords(c.dev, out) {
		c.apply(rec)
	}

	if len(c.bound) == 0 {
		if c.state != Expiring {
			c.state = Detached
		}
		if err != nil {
			return fmt.Errorf("%s: %w: %w", c.dev, ErrNoLease, err)
		}
		return fmt.Errorf("%s: %w", c.dev, ErrNoLease)
	}
	if c.state == Requesting {
		c.state = Attached
	}
	return nil
}

// Apply processes a single lease record, as if reported by Request.
func (c *Client) Apply(rec Record) { c.apply(rec) }

func (c *Client) apply(rec Record) {
	reason := rec.Reason()
	switch reason {
	case ReasonBound, ReasonReboot:
		c.bind(rec)
	case ReasonRenew, ReasonRebind:
		c.bind(rec)
		if len(c.bound) > 0 {
			c.state = Renewing
		}
	case ReasonTimeout:
		slog.Info("DHCPv6: timeout, continuing with previous lease", "interface", c.dev)
		c.bind(rec)
	case ReasonExpire, ReasonFail:
		slog.Warn("DHCPv6: lease lost", "interface", c.dev, "reason", reason)
		c.unbind()
		c.state = Expiring
	case ReasonRelease:
		c.unbind()
	case ReasonStop:
		slog.Info("DHCPv6: client stopped", "interface", c.dev)
	default:
		slog.Warn("DHCPv6: unknown lease reason, record skipped", "interface", c.dev, "reason", reason)
	}
}

func (c *Client) bind(rec Record) {
	oldPfx, hasOld := rec.OldPrefix()
	newPfx, hasNew := rec.NewPrefix()
	if hasOld {
		c.oldPrefixes = prefix.AppendUnique(c.oldPrefixes, oldPfx)
	}
	if hasNew {
		c.newPrefixes = prefix.AppendUnique(c.newPrefixes, newPfx)
	}
	if !hasNew {
		slog.Warn("DHCPv6: lease record without new_ip6_prefix", "interface", c.dev, "reason", rec.Reason())
		if len(c.bound) == 0 {
			return
		}
		c.state = Attached
		return
	}

	// Renumbered: withdraw the superseded prefix first.
	if hasOld && oldPfx != newPfx && prefix.Contains(c.bound, oldPfx) {
		c.bound = slices.DeleteFunc(c.bound, func(p prefix.Prefix) bool { return p == oldPfx })
		slog.Info("DHCPv6: prefix renumbered", "interface", c.dev, "old", oldPfx, "new", newPfx)
		c.post(event.PrefixDetached, []prefix.Prefix{oldPfx})
	}

	c.bound = prefix.AppendUnique(c.bound, newPfx)
	c.state = Attached
	slog.Info("DHCPv6: prefix delegated", "interface", c.dev, "reason", rec.Reason(), "prefix", newPfx)
	c.post(event.PrefixAttached, slices.Clone(c.newPrefixes))
}

func (c *Client) unbind() {
	released := c.bound
	c.bound = nil
	c.state = Detached
	if len(released) == 0 {
		return
	}
	c.post(event.PrefixDetached, released)
}

// Release gives back the lease. It is a no-op when nothing is held.
func (c *Client) Release(ctx context.Context) error {
	if c.state == Detached || c.state == Expiring {
		return nil
	}
	slog.Info("DHCPv6: releasing prefixes", "interface", c.dev, "prefixes", c.bound)
	if err := c.backend.Release(ctx, c.dev, c.pidFile); err != nil {
		return fmt.Errorf("%s: release: %w", c.dev, err)
	}
	c.unbind()
	return nil
}

// Kill sends SIGINT to a client recorded in the pid file, if any.
func (c *Client) Kill() {
	pid, err := proc.ReadPidFile(c.pidFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("DHCPv6: unreadable pid file", "file", c.pidFile, "err", err)
		}
		return
	}
	if err := c.runner.Kill(pid, syscall.SIGINT); err != nil {
		if errors.Is(err, proc.ErrNotRunning) {
			slog.Debug("DHCPv6: stale pid file", "file", c.pidFile, "pid", pid)
			return
		}
		slog.Warn("DHCPv6: failed to stop client", "interface", c.dev, "pid", pid, "err", err)
		return
	}
	slog.Info("DHCPv6: stopped client", "interface", c.dev, "pid", pid)
}

func (c *Client) post(kind event.Kind, prefixes []prefix.Prefix) {
	if c.emit == nil {
		return
	}
	c.emit(event.Event{
		Kind:     kind,
		Ifindex:  c.ifindex,
		Devname:  c.dev,
		Prefixes: prefixes,
	})
}
