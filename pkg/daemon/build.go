package daemon

import (
	"log/slog"

	"github.com/psaab/homegw/pkg/api"
	"github.com/psaab/homegw/pkg/config"
	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/dhcp"
	"github.com/psaab/homegw/pkg/l2tp"
	"github.com/psaab/homegw/pkg/logging"
	"github.com/psaab/homegw/pkg/netcfg"
	"github.com/psaab/homegw/pkg/proc"
	"github.com/psaab/homegw/pkg/radvd"
	"github.com/psaab/homegw/pkg/tunnel"
)

// controllerOptions maps the configuration onto the controller.
func controllerOptions(cfg *config.Config) controller.Options {
	return controller.Options{
		WAN:         cfg.Interfaces.WAN,
		LAN:         cfg.Interfaces.LAN,
		DMZ:         cfg.Interfaces.DMZ,
		PrefixIndex: cfg.Interfaces.PrefixIndex,
		TunnelLink:  cfg.Tunnel.Link,
		Tunnel: tunnel.Options{
			Type:           cfg.Tunnel.Type,
			ClientDevice:   cfg.Tunnel.ClientDevice,
			UDPPort:        cfg.Tunnel.UDPPort,
			FirstTunnelID:  cfg.Tunnel.FirstTunnelID,
			FirstSessionID: cfg.Tunnel.FirstSessionID,
		},
		DHCPStateDir: cfg.DHCP.StateDir,
		Radvd: radvd.Options{
			Binary:      cfg.Radvd.Binary,
			RunDir:      cfg.Radvd.RunDir,
			Lifetime:    cfg.Radvd.Lifetime.Std(),
			MaxInterval: cfg.Radvd.MaxInterval,
			MinInterval: cfg.Radvd.MinInterval,
			RDNSS:       cfg.Radvd.RDNSSAddrs(),
			DNSSL:       cfg.Radvd.DNSSL,
		},
		RetryInitial: cfg.DHCP.RetryInitial.Std(),
		RetryMax:     cfg.DHCP.RetryMax.Std(),
		CallTimeout:  cfg.Tunnel.CallTimeout.Std(),
	}
}

func dhcpBackend(cfg *config.Config, runner proc.Runner) dhcp.Backend {
	if cfg.DHCP.Backend == config.BackendNative {
		return dhcp.NewNative(cfg.DHCP.StateDir, cfg.DHCP.Timeout.Std(), cfg.DHCP.PrefixHint)
	}
	return &dhcp.Dhclient{
		Binary:  cfg.DHCP.Binary,
		Timeout: cfg.DHCP.Timeout.Std(),
		Runner:  runner,
	}
}

func l2tpEndpoint(ipBinary string, runner proc.Runner, nc netcfg.Configurator) tunnel.Endpoint {
	return l2tp.New(ipBinary, runner, nc)
}

// syslogClients opens a client per target. Unreachable targets are
// logged and skipped.
func syslogClients(targets []config.SyslogTarget) []*logging.SyslogClient {
	var clients []*logging.SyslogClient
	for _, t := range targets {
		c, err := logging.NewSyslogClient(t.Host, t.Port)
		if err != nil {
			slog.Warn("syslog target unavailable", "host", t.Host, "err", err)
			continue
		}
		c.MinSeverity = logging.ParseSeverity(t.Severity)
		clients = append(clients, c)
	}
	return clients
}

func authConfig(a *config.APIAuthConfig) *api.AuthConfig {
	if a == nil {
		return nil
	}
	return &api.AuthConfig{Users: a.Users, APIKeys: a.APIKeys}
}
