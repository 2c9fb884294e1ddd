package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psaab/homegw/pkg/config"
	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/dhcp"
	"github.com/psaab/homegw/pkg/l2tp"
	"github.com/psaab/homegw/pkg/logging"
	"github.com/psaab/homegw/pkg/proc"
)

const sample = `
interfaces:
  wan: [ge0]
  lan: [ge1]
  dmz: [veth0]
  prefix_index: {ge1: 3}
tunnel:
  link: veth0
  client_device: veth1
  gateway_addr: 127.0.0.1:1
  dial_timeout: 200ms
  first_tunnel_id: 40
dhcp:
  retry_initial: 2s
radvd:
  lifetime: 90s
  rdnss: ["2001:db8::53"]
api_auth:
  users: {admin: pw}
`

func TestControllerOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	opts := controllerOptions(cfg)
	if opts.TunnelLink != "veth0" || opts.Tunnel.ClientDevice != "veth1" || opts.Tunnel.FirstTunnelID != 40 {
		t.Errorf("tunnel = %+v", opts.Tunnel)
	}
	if opts.PrefixIndex["ge1"] != 3 {
		t.Errorf("prefix index = %v", opts.PrefixIndex)
	}
	if opts.Radvd.Lifetime != 90*time.Second || len(opts.Radvd.RDNSS) != 1 {
		t.Errorf("radvd = %+v", opts.Radvd)
	}
	if opts.RetryInitial != 2*time.Second || opts.RetryMax != 5*time.Minute {
		t.Errorf("retry = %v/%v", opts.RetryInitial, opts.RetryMax)
	}
	if opts.DHCPStateDir != config.DefaultStateDir {
		t.Errorf("state dir = %q", opts.DHCPStateDir)
	}
}

func TestDHCPBackend(t *testing.T) {
	cfg, err := config.Parse([]byte("interfaces:\n  wan: [ge0]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := dhcpBackend(cfg, proc.Exec{}).(*dhcp.Dhclient); !ok {
		t.Error("default backend is not dhclient")
	}
	cfg.DHCP.Backend = config.BackendNative
	if _, ok := dhcpBackend(cfg, proc.Exec{}).(*dhcp.Native); !ok {
		t.Error("native backend not selected")
	}
}

func TestL2TPEndpoint(t *testing.T) {
	if _, ok := l2tpEndpoint("", proc.Exec{}, nil).(*l2tp.Endpoint); !ok {
		t.Error("exec endpoint is not l2tp")
	}
}

func TestSyslogClients(t *testing.T) {
	clients := syslogClients([]config.SyslogTarget{
		{Host: "127.0.0.1", Port: 5514, Severity: "warning"},
		{Host: "127.0.0.1", Port: -1},
	})
	if len(clients) != 1 {
		t.Fatalf("got %d clients, want 1", len(clients))
	}
	defer clients[0].Close()
	if clients[0].MinSeverity != logging.SyslogWarning {
		t.Errorf("min severity = %d", clients[0].MinSeverity)
	}
}

func TestAuthConfig(t *testing.T) {
	if authConfig(nil) != nil {
		t.Error("nil auth should stay nil")
	}
	a := authConfig(&config.APIAuthConfig{APIKeys: []string{"k"}})
	if a == nil || a.APIKeys[0] != "k" {
		t.Errorf("auth = %+v", a)
	}
}

func TestStatusViewJSON(t *testing.T) {
	v := statusView{
		Status: &controller.Status{Links: []controller.LinkStatus{{Name: "ge0"}}},
		Events: []logging.EventRecord{{Kind: "quit"}},
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"links", "events", "tunnels"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
}

func TestRunMissingConfig(t *testing.T) {
	d := New(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunGatewayUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homegw.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	d := New(Options{ConfigFile: path})
	err := d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "tunnel gateway") {
		t.Fatalf("err = %v, want tunnel gateway failure", err)
	}
}
