package controller

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/psaab/homegw/pkg/prefix"
)

// Status is an immutable snapshot of the controller tables, published
// after every processed event.
type Status struct {
	Updated   time.Time          `json:"updated"`
	Links     []LinkStatus       `json:"links"`
	Addresses []AddressStatus    `json:"addresses"`
	Routes    []RouteStatus      `json:"routes"`
	Prefixes  []DelegationStatus `json:"prefixes"`
	Radvd     []RadvdStatus      `json:"radvd"`
	Tunnels   []TunnelStatus     `json:"tunnels"`
}

type LinkStatus struct {
	Name        string `json:"name"`
	Index       int    `json:"index"`
	Role        string `json:"role"`
	OperUp      bool   `json:"oper_up"`
	RaAttached  bool   `json:"ra_attached"`
	PrefixIndex int    `json:"prefix_index"` // -1 for uplinks
}

type AddressStatus struct {
	Link    string `json:"link"`
	Address string `json:"address"`
	Scope   int    `json:"scope"`
}

type RouteStatus struct {
	Link    string `json:"link"`
	Dst     string `json:"dst"`
	Gateway string `json:"gateway,omitempty"`
	Table   int    `json:"table"`
	Type    int    `json:"type"`
}

type DelegationStatus struct {
	Link     string   `json:"link"`
	State    string   `json:"state"`
	Prefixes []string `json:"prefixes"`
}

type RadvdStatus struct {
	Link     string   `json:"link"`
	Running  bool     `json:"running"`
	Pid      int      `json:"pid,omitempty"`
	Config   string   `json:"config"`
	Prefixes []string `json:"prefixes"`
}

type TunnelStatus struct {
	Device        string `json:"device"`
	Type          string `json:"type"`
	Subprefix     string `json:"subprefix"`
	ClientIP      string `json:"client_ip"`
	RouterIP      string `json:"router_ip"`
	TunnelID      uint32 `json:"tunnel_id"`
	SessionID     uint32 `json:"session_id"`
	LocalPort     int    `json:"local_port"`
	PeerIP        string `json:"peer_ip"`
	PeerPort      int    `json:"peer_port"`
	PeerTunnelID  uint32 `json:"peer_tunnel_id"`
	PeerSessionID uint32 `json:"peer_session_id"`
}

// Status returns the latest published snapshot. It is safe to call
// from any goroutine.
func (c *Controller) Status() *Status {
	return c.status.Load()
}

func (c *Controller) publish() {
	st := &Status{
		Updated:   time.Now(),
		Links:     []LinkStatus{},
		Addresses: []AddressStatus{},
		Routes:    []RouteStatus{},
		Prefixes:  []DelegationStatus{},
		Radvd:     []RadvdStatus{},
		Tunnels:   []TunnelStatus{},
	}
	running := 0
	for _, l := range c.sortedLinks() {
		st.Links = append(st.Links, LinkStatus{
			Name:        l.Name,
			Index:       l.Index,
			Role:        l.Role.String(),
			OperUp:      l.OperUp,
			RaAttached:  l.RaAttached,
			PrefixIndex: l.PrefixIndex,
		})
		if l.dhcp != nil {
			st.Prefixes = append(st.Prefixes, DelegationStatus{
				Link:     l.Name,
				State:    l.dhcp.State().String(),
				Prefixes: prefixStrings(l.dhcp.Prefixes()),
			})
		}
		if l.radvd != nil {
			if l.radvd.Running() {
				running++
			}
			st.Radvd = append(st.Radvd, RadvdStatus{
				Link:     l.Name,
				Running:  l.radvd.Running(),
				Pid:      l.radvd.Pid(),
				Config:   l.radvd.ConfFile(),
				Prefixes: prefixStrings(l.radvd.Prefixes()),
			})
		}
	}

	for a := range c.addrs {
		st.Addresses = append(st.Addresses, AddressStatus{
			Link:    c.linkName(a.Index),
			Address: fmt.Sprintf("%s/%d", a.Addr, a.PrefixLen),
			Scope:   a.Scope,
		})
	}
	slices.SortFunc(st.Addresses, func(a, b AddressStatus) int {
		return cmp.Or(cmp.Compare(a.Link, b.Link), cmp.Compare(a.Address, b.Address))
	})

	for r := range c.routes {
		rs := RouteStatus{Link: c.linkName(r.Index), Dst: r.Dst.String(), Table: r.Table, Type: r.Type}
		if r.Gw.IsValid() {
			rs.Gateway = r.Gw.String()
		}
		st.Routes = append(st.Routes, rs)
	}
	slices.SortFunc(st.Routes, func(a, b RouteStatus) int {
		return cmp.Or(cmp.Compare(a.Link, b.Link), cmp.Compare(a.Dst, b.Dst), cmp.Compare(a.Table, b.Table))
	})

	if c.tunnels != nil {
		for _, t := range c.tunnels.Tunnels() {
			st.Tunnels = append(st.Tunnels, TunnelStatus{
				Device:        t.Devname,
				Type:          t.Type,
				Subprefix:     t.Subprefix.String(),
				ClientIP:      t.ClientIP.String(),
				RouterIP:      t.RouterIP.String(),
				TunnelID:      t.TunnelID,
				SessionID:     t.SessionID,
				LocalPort:     t.LocalPort,
				PeerIP:        t.Peer.IP.String(),
				PeerPort:      t.Peer.Port,
				PeerTunnelID:  t.Peer.TunnelID,
				PeerSessionID: t.Peer.SessionID,
			})
		}
	}

	delegated := 0
	for _, d := range st.Prefixes {
		delegated += len(d.Prefixes)
	}
	c.metrics.delegated.Set(float64(delegated))
	c.metrics.radvd.Set(float64(running))
	c.metrics.tunnels.Set(float64(len(st.Tunnels)))

	c.status.Store(st)
}

func (c *Controller) linkName(index int) string {
	if l, ok := c.links[index]; ok {
		return l.Name
	}
	return fmt.Sprintf("if%d", index)
}

func prefixStrings(ps []prefix.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}
