package dhcp

import (
	"context"
	"time"

	"github.com/psaab/homegw/pkg/proc"
)

// DefaultDhclient is the ISC DHCP client binary.
const DefaultDhclient = "/sbin/dhclient"

// Dhclient runs the external ISC DHCP client in single-shot mode.
type Dhclient struct {
	Binary  string
	Timeout time.Duration
	Runner  proc.Runner
}

// RequestArgs returns the command line for a prefix delegation request.
func RequestArgs(dev, pidFile string) []string {
	return []string{"-6", "-q", "-P", "-1", "-pf", pidFile, dev}
}

// ReleaseArgs returns the command line for a lease release.
func ReleaseArgs(dev, pidFile string) []string {
	return []string{"-6", "-q", "-N", "-r", "-pf", pidFile, dev}
}

// Request implements Backend. Output collected before a failure is
// still returned so partial records are not lost.
func (d *Dhclient) Request(ctx context.Context, dev, pidFile string) ([]byte, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.Runner.Output(ctx, d.binary(), RequestArgs(dev, pidFile)...)
}

// Release implements Backend.
func (d *Dhclient) Release(ctx context.Context, dev, pidFile string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	_, err := d.Runner.Output(ctx, d.binary(), ReleaseArgs(dev, pidFile)...)
	return err
}

func (d *Dhclient) binary() string {
	if d.Binary == "" {
		return DefaultDhclient
	}
	return d.Binary
}

func (d *Dhclient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Timeout)
}
