package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
interfaces:
  wan: [ge0]
  lan: [ge1, ge2]
  dmz: [veth0]
  prefix_index:
    ge2: 7
tunnel:
  link: veth0
  client_device: veth1
  gateway_addr: 10.0.0.1:50052
  udp_port: 6000
dhcp:
  backend: native
  timeout: 20s
  retry_initial: 5s
  retry_max: 2m
radvd:
  lifetime: 120s
  max_interval: 4
  min_interval: 3
  rdnss: ["2001:db8::53"]
  dnssl: [home.arpa]
api_auth:
  api_keys: [tok-1]
log:
  level: debug
  syslog:
    - host: 192.0.2.10
      severity: warning
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Interfaces.LAN) != 2 || cfg.Interfaces.DMZ[0] != "veth0" {
		t.Errorf("interfaces = %+v", cfg.Interfaces)
	}
	if cfg.Interfaces.PrefixIndex["ge2"] != 7 {
		t.Errorf("prefix_index = %v", cfg.Interfaces.PrefixIndex)
	}
	if cfg.DHCP.Timeout.Std() != 20*time.Second || cfg.DHCP.RetryMax.Std() != 2*time.Minute {
		t.Errorf("dhcp = %+v", cfg.DHCP)
	}
	if cfg.Radvd.Lifetime.Std() != 120*time.Second {
		t.Errorf("lifetime = %s", cfg.Radvd.Lifetime.Std())
	}
	if got := cfg.Radvd.RDNSSAddrs(); len(got) != 1 || got[0].String() != "2001:db8::53" {
		t.Errorf("rdnss = %v", got)
	}
	if cfg.Log.Syslog[0].Port != 514 {
		t.Errorf("syslog port default = %d", cfg.Log.Syslog[0].Port)
	}
	if cfg.Tunnel.Endpoint != EndpointExec {
		t.Errorf("endpoint default = %q", cfg.Tunnel.Endpoint)
	}
	if cfg.APIAuth == nil || cfg.APIAuth.APIKeys[0] != "tok-1" {
		t.Errorf("api_auth = %+v", cfg.APIAuth)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("warnings = %v", cfg.Warnings)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("interfaces:\n  wan: [eth0]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIAddr != DefaultAPIAddr || cfg.GRPCAddr != DefaultGRPCAddr {
		t.Errorf("addrs = %s %s", cfg.APIAddr, cfg.GRPCAddr)
	}
	if cfg.DHCP.Backend != BackendDhclient || cfg.DHCP.StateDir != DefaultStateDir {
		t.Errorf("dhcp = %+v", cfg.DHCP)
	}
	if cfg.DHCP.RetryInitial != 0 {
		t.Error("retry should be disabled by default")
	}
	if cfg.Radvd.RunDir != DefaultRunDir || cfg.SysctlRoot != DefaultSysctlRoot {
		t.Errorf("dirs = %s %s", cfg.Radvd.RunDir, cfg.SysctlRoot)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no wan", "interfaces:\n  lan: [eth1]\n", "at least one wan"},
		{"duplicate", "interfaces:\n  wan: [eth0]\n  lan: [eth0]\n", "both wan and lan"},
		{"tunnel on wan", "interfaces:\n  wan: [eth0]\ntunnel:\n  link: eth0\n  gateway_addr: x:1\n", "not a lan or dmz"},
		{"tunnel no gateway", "interfaces:\n  wan: [eth0]\n  dmz: [veth0]\ntunnel:\n  link: veth0\n", "gateway_addr required"},
		{"rpc endpoint no addr", "interfaces:\n  wan: [eth0]\n  dmz: [veth0]\ntunnel:\n  link: veth0\n  gateway_addr: x:1\n  endpoint: rpc\n", "endpoint_addr required"},
		{"bad backend", "interfaces:\n  wan: [eth0]\ndhcp:\n  backend: udhcpc\n", "dhcp.backend"},
		{"retry order", "interfaces:\n  wan: [eth0]\ndhcp:\n  retry_initial: 1m\n  retry_max: 10s\n", "retry_max"},
		{"bad rdnss", "interfaces:\n  wan: [eth0]\nradvd:\n  rdnss: [192.0.2.1]\n", "radvd.rdnss"},
		{"intervals", "interfaces:\n  wan: [eth0]\nradvd:\n  max_interval: 3\n  min_interval: 4\n", "min_interval"},
		{"pinned twice", "interfaces:\n  wan: [eth0]\n  lan: [a, b]\n  prefix_index: {a: 1, b: 1}\n", "both pinned"},
		{"index range", "interfaces:\n  wan: [eth0]\n  prefix_index: {eth0: 70000}\n", "out of range"},
		{"log level", "interfaces:\n  wan: [eth0]\nlog:\n  level: trace\n", "log.level"},
		{"unknown key", "interfaces:\n  wan: [eth0]\nbogus: 1\n", "bogus"},
		{"bad duration", "interfaces:\n  wan: [eth0]\ndhcp:\n  timeout: soon\n", "duration"},
		{"empty auth", "interfaces:\n  wan: [eth0]\napi_auth: {}\n", "api_auth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg, err := Parse([]byte("interfaces:\n  wan: [eth0]\n  prefix_index: {ghost: 3}\ntunnel:\n  gateway_addr: x:1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Warnings) != 2 {
		t.Errorf("warnings = %v", cfg.Warnings)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homegw.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tunnel.Link != "veth0" {
		t.Errorf("tunnel link = %q", cfg.Tunnel.Link)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
