// Package config loads the homegw YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"
)

// Defaults.
const (
	DefaultPath       = "/etc/homegw/homegw.yaml"
	DefaultAPIAddr    = "127.0.0.1:8080"
	DefaultGRPCAddr   = "127.0.0.1:50051"
	DefaultStateDir   = "/var/lib/homegw"
	DefaultRunDir     = "/run/homegw"
	DefaultSysctlRoot = "/proc/sys"
	DefaultLogLevel   = "info"

	BackendDhclient = "dhclient"
	BackendNative   = "native"

	EndpointExec = "exec"
	EndpointRPC  = "rpc"

	maxPrefixIndex = 1<<16 - 1
)

// Config is the top-level configuration.
type Config struct {
	Interfaces InterfacesConfig `yaml:"interfaces"`
	Tunnel     TunnelConfig     `yaml:"tunnel"`
	DHCP       DHCPConfig       `yaml:"dhcp"`
	Radvd      RadvdConfig      `yaml:"radvd"`
	SysctlRoot string           `yaml:"sysctl_root"`
	APIAddr    string           `yaml:"api_addr"`
	APIAuth    *APIAuthConfig   `yaml:"api_auth"`
	GRPCAddr   string           `yaml:"grpc_addr"`
	Log        LogConfig        `yaml:"log"`

	Warnings []string `yaml:"-"` // non-fatal validation warnings
}

// InterfacesConfig assigns roles to device names.
type InterfacesConfig struct {
	WAN []string `yaml:"wan"`
	LAN []string `yaml:"lan"`
	DMZ []string `yaml:"dmz"`
	// PrefixIndex pins the /64 index a device derives from a delegation.
	PrefixIndex map[string]int `yaml:"prefix_index"`
}

// TunnelConfig configures the tunnel towards the remote gateway.
type TunnelConfig struct {
	Link           string   `yaml:"link"`
	ClientDevice   string   `yaml:"client_device"`
	Type           string   `yaml:"type"`
	UDPPort        int      `yaml:"udp_port"`
	FirstTunnelID  uint32   `yaml:"first_tunnel_id"`
	FirstSessionID uint32   `yaml:"first_session_id"`
	Endpoint       string   `yaml:"endpoint"`
	EndpointAddr   string   `yaml:"endpoint_addr"`
	GatewayAddr    string   `yaml:"gateway_addr"`
	IPBinary       string   `yaml:"ip_binary"`
	DialTimeout    Duration `yaml:"dial_timeout"`
	CallTimeout    Duration `yaml:"call_timeout"`
}

// DHCPConfig configures prefix delegation.
type DHCPConfig struct {
	Backend      string   `yaml:"backend"`
	Binary       string   `yaml:"binary"`
	StateDir     string   `yaml:"state_dir"`
	Timeout      Duration `yaml:"timeout"`
	PrefixHint   int      `yaml:"prefix_hint"`
	RetryInitial Duration `yaml:"retry_initial"`
	RetryMax     Duration `yaml:"retry_max"`
}

// RadvdConfig configures the per-downlink RA daemons.
type RadvdConfig struct {
	Binary      string   `yaml:"binary"`
	RunDir      string   `yaml:"run_dir"`
	Lifetime    Duration `yaml:"lifetime"`
	MaxInterval int      `yaml:"max_interval"`
	MinInterval int      `yaml:"min_interval"`
	RDNSS       []string `yaml:"rdnss"`
	DNSSL       []string `yaml:"dnssl"`
}

// APIAuthConfig protects the HTTP API. Health and metrics stay open.
type APIAuthConfig struct {
	Users   map[string]string `yaml:"users"` // username -> password
	APIKeys []string          `yaml:"api_keys"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string         `yaml:"level"`
	Syslog []SyslogTarget `yaml:"syslog"`
}

// SyslogTarget is a remote syslog server.
type SyslogTarget struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Severity string `yaml:"severity"` // minimum severity forwarded
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("duration %q is negative", s)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SysctlRoot == "" {
		c.SysctlRoot = DefaultSysctlRoot
	}
	if c.APIAddr == "" {
		c.APIAddr = DefaultAPIAddr
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	for i := range c.Log.Syslog {
		if c.Log.Syslog[i].Port == 0 {
			c.Log.Syslog[i].Port = 514
		}
	}
	if c.DHCP.Backend == "" {
		c.DHCP.Backend = BackendDhclient
	}
	if c.DHCP.StateDir == "" {
		c.DHCP.StateDir = DefaultStateDir
	}
	if c.DHCP.Timeout == 0 {
		c.DHCP.Timeout = Duration(30 * time.Second)
	}
	if c.DHCP.RetryInitial > 0 && c.DHCP.RetryMax == 0 {
		c.DHCP.RetryMax = Duration(5 * time.Minute)
	}
	if c.Radvd.RunDir == "" {
		c.Radvd.RunDir = DefaultRunDir
	}
	if c.Tunnel.Endpoint == "" {
		c.Tunnel.Endpoint = EndpointExec
	}
	if c.Tunnel.DialTimeout == 0 {
		c.Tunnel.DialTimeout = Duration(10 * time.Second)
	}
	if c.Tunnel.CallTimeout == 0 {
		c.Tunnel.CallTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for errors. Non-fatal findings are
// appended to Warnings.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Interfaces.WAN) == 0 {
		errs = append(errs, errors.New("interfaces: at least one wan device required"))
	}
	seen := make(map[string]string)
	roles := []struct {
		name string
		devs []string
	}{
		{"wan", c.Interfaces.WAN},
		{"lan", c.Interfaces.LAN},
		{"dmz", c.Interfaces.DMZ},
	}
	for _, r := range roles {
		role := r.name
		for _, dev := range r.devs {
			if dev == "" {
				errs = append(errs, fmt.Errorf("interfaces.%s: empty device name", role))
				continue
			}
			if prev, ok := seen[dev]; ok {
				errs = append(errs, fmt.Errorf("interfaces: %s listed as both %s and %s", dev, prev, role))
				continue
			}
			seen[dev] = role
		}
	}
	pinned := make(map[int]string)
	for dev, idx := range c.Interfaces.PrefixIndex {
		if idx < 0 || idx > maxPrefixIndex {
			errs = append(errs, fmt.Errorf("interfaces.prefix_index.%s: %d out of range", dev, idx))
		}
		if other, ok := pinned[idx]; ok {
			errs = append(errs, fmt.Errorf("interfaces.prefix_index: %s and %s both pinned to %d", dev, other, idx))
		}
		pinned[idx] = dev
		if _, ok := seen[dev]; !ok {
			c.Warnings = append(c.Warnings, fmt.Sprintf("interfaces.prefix_index: %s is not a configured device", dev))
		}
	}

	if t := c.Tunnel; t.Link != "" {
		if role := seen[t.Link]; role != "lan" && role != "dmz" {
			errs = append(errs, fmt.Errorf("tunnel.link: %s is not a lan or dmz device", t.Link))
		}
		if t.GatewayAddr == "" {
			errs = append(errs, errors.New("tunnel.gateway_addr required when tunnel.link is set"))
		}
		switch t.Endpoint {
		case EndpointExec:
		case EndpointRPC:
			if t.EndpointAddr == "" {
				errs = append(errs, errors.New("tunnel.endpoint_addr required for rpc endpoint"))
			}
		default:
			errs = append(errs, fmt.Errorf("tunnel.endpoint: unknown %q", t.Endpoint))
		}
		if t.UDPPort < 0 || t.UDPPort > 65535 {
			errs = append(errs, fmt.Errorf("tunnel.udp_port: %d out of range", t.UDPPort))
		}
	} else if c.Tunnel.GatewayAddr != "" {
		c.Warnings = append(c.Warnings, "tunnel.gateway_addr set without tunnel.link; tunnels disabled")
	}

	switch c.DHCP.Backend {
	case BackendDhclient, BackendNative:
	default:
		errs = append(errs, fmt.Errorf("dhcp.backend: unknown %q", c.DHCP.Backend))
	}
	if c.DHCP.PrefixHint < 0 || c.DHCP.PrefixHint > 64 {
		errs = append(errs, fmt.Errorf("dhcp.prefix_hint: %d out of range", c.DHCP.PrefixHint))
	}
	if c.DHCP.RetryInitial > 0 && c.DHCP.RetryMax < c.DHCP.RetryInitial {
		errs = append(errs, errors.New("dhcp.retry_max must not be below dhcp.retry_initial"))
	}

	for _, s := range c.Radvd.RDNSS {
		if a, err := netip.ParseAddr(s); err != nil || !a.Is6() {
			errs = append(errs, fmt.Errorf("radvd.rdnss: %q is not an IPv6 address", s))
		}
	}
	if c.Radvd.MinInterval > 0 && c.Radvd.MaxInterval > 0 && c.Radvd.MinInterval >= c.Radvd.MaxInterval {
		errs = append(errs, errors.New("radvd.min_interval must be below radvd.max_interval"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown %q", c.Log.Level))
	}
	for _, s := range c.Log.Syslog {
		if s.Host == "" {
			errs = append(errs, errors.New("log.syslog: host required"))
		}
	}
	if a := c.APIAuth; a != nil && len(a.Users) == 0 && len(a.APIKeys) == 0 {
		errs = append(errs, errors.New("api_auth: no users or api_keys, the API would be unreachable"))
	}

	return errors.Join(errs...)
}

// RDNSSAddrs returns the parsed radvd.rdnss addresses.
func (r RadvdConfig) RDNSSAddrs() []netip.Addr {
	var out []netip.Addr
	for _, s := range r.RDNSS {
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, a)
		}
	}
	return out
}
