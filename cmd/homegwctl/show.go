package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/logging"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func showLinks(w io.Writer, links []controller.LinkStatus) {
	if len(links) == 0 {
		fmt.Fprintln(w, "No links tracked")
		return
	}
	fmt.Fprintf(w, "%-16s %-6s %-5s %-5s %-4s %s\n", "Link", "Index", "Role", "Up", "RA", "Prefix index")
	for _, l := range links {
		idx := "-"
		if l.PrefixIndex >= 0 {
			idx = fmt.Sprint(l.PrefixIndex)
		}
		fmt.Fprintf(w, "%-16s %-6d %-5s %-5s %-4s %s\n",
			l.Name, l.Index, l.Role, yesNo(l.OperUp), yesNo(l.RaAttached), idx)
	}
}

func scopeName(scope int) string {
	switch scope {
	case 0:
		return "global"
	case 253:
		return "link"
	case 254:
		return "host"
	}
	return fmt.Sprint(scope)
}

func showAddresses(w io.Writer, addrs []controller.AddressStatus) {
	if len(addrs) == 0 {
		fmt.Fprintln(w, "No addresses")
		return
	}
	fmt.Fprintf(w, "%-16s %-44s %s\n", "Link", "Address", "Scope")
	for _, a := range addrs {
		fmt.Fprintf(w, "%-16s %-44s %s\n", a.Link, a.Address, scopeName(a.Scope))
	}
}

func showRoutes(w io.Writer, routes []controller.RouteStatus) {
	if len(routes) == 0 {
		fmt.Fprintln(w, "No routes")
		return
	}
	fmt.Fprintf(w, "%-16s %-44s %-28s %s\n", "Link", "Destination", "Gateway", "Table")
	for _, r := range routes {
		gw := r.Gateway
		if gw == "" {
			gw = "-"
		}
		fmt.Fprintf(w, "%-16s %-44s %-28s %d\n", r.Link, r.Dst, gw, r.Table)
	}
}

func showPrefixes(w io.Writer, dels []controller.DelegationStatus) {
	if len(dels) == 0 {
		fmt.Fprintln(w, "No uplinks")
		return
	}
	for _, d := range dels {
		fmt.Fprintf(w, "%s: %s\n", d.Link, d.State)
		if len(d.Prefixes) == 0 {
			fmt.Fprintln(w, "  (no delegated prefixes)")
		}
		for _, p := range d.Prefixes {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

func showRadvd(w io.Writer, ds []controller.RadvdStatus) {
	if len(ds) == 0 {
		fmt.Fprintln(w, "No downlinks")
		return
	}
	for _, d := range ds {
		state := "stopped"
		if d.Running {
			state = fmt.Sprintf("running (pid %d)", d.Pid)
		}
		fmt.Fprintf(w, "%s: %s\n", d.Link, state)
		if d.Config != "" {
			fmt.Fprintf(w, "  config: %s\n", d.Config)
		}
		for _, p := range d.Prefixes {
			fmt.Fprintf(w, "  prefix %s\n", p)
		}
	}
}

func showTunnels(w io.Writer, tunnels []controller.TunnelStatus) {
	if len(tunnels) == 0 {
		fmt.Fprintln(w, "No tunnels")
		return
	}
	for _, t := range tunnels {
		fmt.Fprintf(w, "%s (%s) %s\n", t.Device, t.Type, t.Subprefix)
		fmt.Fprintf(w, "  client %s router %s\n", t.ClientIP, t.RouterIP)
		fmt.Fprintf(w, "  local tunnel %d session %d port %d\n", t.TunnelID, t.SessionID, t.LocalPort)
		fmt.Fprintf(w, "  peer %s port %d tunnel %d session %d\n", t.PeerIP, t.PeerPort, t.PeerTunnelID, t.PeerSessionID)
	}
}

// showEvents prints events oldest first, limited to link when set.
func showEvents(w io.Writer, events []logging.EventRecord, link string) {
	var shown int
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if link != "" && e.Link != link {
			continue
		}
		if shown == 0 {
			fmt.Fprintf(w, "%-6s %-19s %-18s %-12s %s\n", "Seq", "Time", "Kind", "Link", "Detail")
		}
		shown++
		fmt.Fprintf(w, "%-6d %-19s %-18s %-12s %s\n",
			e.Seq, e.Time.Local().Format(time.DateTime), e.Kind, e.Link, e.Detail)
	}
	if shown == 0 {
		fmt.Fprintln(w, "No events")
	}
}

func showAll(w io.Writer, v *view) {
	sections := []struct {
		title string
		show  func()
	}{
		{"Links", func() { showLinks(w, v.Links) }},
		{"Addresses", func() { showAddresses(w, v.Addresses) }},
		{"Routes", func() { showRoutes(w, v.Routes) }},
		{"Delegated prefixes", func() { showPrefixes(w, v.Prefixes) }},
		{"Router advertisements", func() { showRadvd(w, v.Radvd) }},
		{"Tunnels", func() { showTunnels(w, v.Tunnels) }},
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n%s\n", s.title, strings.Repeat("-", len(s.title)+1))
		s.show()
	}
}
