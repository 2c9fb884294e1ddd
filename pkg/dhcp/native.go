package dhcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/psaab/homegw/pkg/prefix"
)

// Native performs the DHCPv6-PD exchange in-process and reports the
// outcome as lease records in the same form the external client uses.
type Native struct {
	stateDir string
	timeout  time.Duration
	hintBits int

	duids  map[string]dhcpv6.DUID
	leases map[string]*nativeLease
}

type nativeLease struct {
	serverID dhcpv6.DUID
	iapds    []*dhcpv6.OptIAPD
	prefixes []prefix.Prefix
}

// NewNative creates an in-process backend. DUIDs are persisted in
// stateDir; hintBits, if non-zero, is sent as the requested prefix length.
func NewNative(stateDir string, timeout time.Duration, hintBits int) *Native {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Native{
		stateDir: stateDir,
		timeout:  timeout,
		hintBits: hintBits,
		duids:    make(map[string]dhcpv6.DUID),
		leases:   make(map[string]*nativeLease),
	}
}

// Request implements Backend.
func (n *Native) Request(ctx context.Context, dev, _ string) ([]byte, error) {
	client, err := nclient6.New(dev)
	if err != nil {
		return nil, fmt.Errorf("create DHCPv6 client: %w", err)
	}
	defer client.Close()

	exCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	reply, err := client.RapidSolicit(exCtx, n.modifiers(dev)...)
	if err != nil {
		if exCtx.Err() != nil {
			return []byte(FormatRecord(ReasonTimeout, prefix.Prefix{}, n.firstPrefix(dev))), nil
		}
		return nil, fmt.Errorf("DHCPv6 solicit: %w", err)
	}

	pfxs, iapds := extractDelegatedPrefixes(reply)
	if len(pfxs) == 0 {
		return []byte(FormatRecord(ReasonFail, n.firstPrefix(dev), prefix.Prefix{})), nil
	}

	prev := n.leases[dev]
	n.leases[dev] = &nativeLease{
		serverID: reply.Options.ServerID(),
		iapds:    iapds,
		prefixes: pfxs,
	}

	var lines []string
	for i, p := range pfxs {
		reason := ReasonBound
		var old prefix.Prefix
		if prev != nil {
			reason = ReasonRebind
			if i < len(prev.prefixes) {
				old = prev.prefixes[i]
			}
		}
		slog.Info("DHCPv6: received delegated prefix", "interface", dev, "prefix", p)
		lines = append(lines, FormatRecord(reason, old, p))
	}
	return []byte(strings.Join(lines, "\n") + "\n"), nil
}

// Release implements Backend.
func (n *Native) Release(ctx context.Context, dev, _ string) error {
	lease, ok := n.leases[dev]
	if !ok {
		return nil
	}
	client, err := nclient6.New(dev)
	if err != nil {
		return fmt.Errorf("create DHCPv6 client: %w", err)
	}
	defer client.Close()

	msg, err := n.releaseMessage(dev, lease)
	if err != nil {
		return err
	}

	exCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if _, err := client.SendAndRead(exCtx, nclient6.AllDHCPRelayAgentsAndServers, msg,
		nclient6.IsMessageType(dhcpv6.MessageTypeReply)); err != nil {
		return fmt.Errorf("DHCPv6 release: %w", err)
	}
	delete(n.leases, dev)
	return nil
}

func (n *Native) releaseMessage(dev string, lease *nativeLease) (*dhcpv6.Message, error) {
	var mods []dhcpv6.Modifier
	if duid, err := n.getDUID(dev); err == nil {
		mods = append(mods, dhcpv6.WithClientID(duid))
	}
	if lease.serverID != nil {
		mods = append(mods, dhcpv6.WithServerID(lease.serverID))
	}
	msg, err := dhcpv6.NewMessage(mods...)
	if err != nil {
		return nil, fmt.Errorf("build DHCPv6 release: %w", err)
	}
	msg.MessageType = dhcpv6.MessageTypeRelease
	for _, iapd := range lease.iapds {
		msg.AddOption(iapd)
	}
	return msg, nil
}

func (n *Native) firstPrefix(dev string) prefix.Prefix {
	if l, ok := n.leases[dev]; ok && len(l.prefixes) > 0 {
		return l.prefixes[0]
	}
	return prefix.Prefix{}
}

// modifiers builds the SOLICIT options: client DUID and one IA_PD.
func (n *Native) modifiers(dev string) []dhcpv6.Modifier {
	var mods []dhcpv6.Modifier
	if duid, err := n.getDUID(dev); err == nil {
		mods = append(mods, dhcpv6.WithClientID(duid))
	} else {
		slog.Warn("DHCPv6: no DUID, using library default", "interface", dev, "err", err)
	}

	iaid := [4]byte{0, 0, 0, 1}
	if n.hintBits > 0 {
		hint := &dhcpv6.OptIAPrefix{
			Prefix: &net.IPNet{
				IP:   net.IPv6zero,
				Mask: net.CIDRMask(n.hintBits, 128),
			},
		}
		mods = append(mods, dhcpv6.WithIAPD(iaid, hint))
	} else {
		mods = append(mods, dhcpv6.WithIAPD(iaid))
	}
	mods = append(mods, dhcpv6.WithRequestedOptions(
		dhcpv6.OptionDNSRecursiveNameServer,
		dhcpv6.OptionDomainSearchList,
	))
	return mods
}

// extractDelegatedPrefixes returns the IA_PD prefixes carried by msg and
// the IA_PD options themselves.
func extractDelegatedPrefixes(msg *dhcpv6.Message) ([]prefix.Prefix, []*dhcpv6.OptIAPD) {
	var pfxs []prefix.Prefix
	var iapds []*dhcpv6.OptIAPD
	for _, opt := range msg.Options.Options {
		iapd, ok := opt.(*dhcpv6.OptIAPD)
		if !ok {
			continue
		}
		iapds = append(iapds, iapd)
		for _, p := range iapd.Options.Prefixes() {
			if p.Prefix == nil || p.ValidLifetime == 0 {
				continue
			}
			ip, ok := netip.AddrFromSlice(p.Prefix.IP)
			if !ok {
				continue
			}
			ones, _ := p.Prefix.Mask.Size()
			pfxs = prefix.AppendUnique(pfxs, prefix.New(ip, ones))
		}
	}
	return pfxs, iapds
}

// getDUID returns the DUID-LL for dev, loading a persisted one first.
func (n *Native) getDUID(dev string) (dhcpv6.DUID, error) {
	if d, ok := n.duids[dev]; ok {
		return d, nil
	}
	if d, err := n.loadDUID(dev); err == nil {
		n.duids[dev] = d
		return d, nil
	}

	iface, err := net.InterfaceByName(dev)
	if err != nil {
		return nil, fmt.Errorf("interface lookup for DUID: %w", err)
	}
	duid := &dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: iface.HardwareAddr,
	}
	if err := n.saveDUID(dev, duid); err != nil {
		slog.Warn("DHCPv6: failed to persist DUID", "interface", dev, "err", err)
	}
	n.duids[dev] = duid
	slog.Info("DHCPv6: generated DUID", "interface", dev, "duid", duid)
	return duid, nil
}

func (n *Native) duidPath(dev string) string {
	return filepath.Join(n.stateDir, "dhcpv6-duid-"+dev)
}

func (n *Native) loadDUID(dev string) (dhcpv6.DUID, error) {
	data, err := os.ReadFile(n.duidPath(dev))
	if err != nil {
		return nil, err
	}
	return dhcpv6.DUIDFromBytes(data)
}

func (n *Native) saveDUID(dev string, duid dhcpv6.DUID) error {
	if err := os.MkdirAll(n.stateDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(n.duidPath(dev), duid.ToBytes(), 0644)
}
