// homegwd is the homegw edge router daemon.
//
// It watches the uplink and downlinks over netlink, requests delegated
// prefixes over DHCPv6, announces /64s on every downlink and keeps the
// tunnel link's per-prefix tunnels in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/psaab/homegw/pkg/config"
	"github.com/psaab/homegw/pkg/daemon"
	"github.com/psaab/homegw/pkg/logging"
)

func main() {
	configFile := flag.String("config", config.DefaultPath, "configuration file path")
	apiAddr := flag.String("api-addr", "", "HTTP API listen address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := new(slog.LevelVar)
	if *debug {
		level.Set(slog.LevelDebug)
	}
	handler := logging.NewSyslogSlogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(slog.New(handler))

	d := daemon.New(daemon.Options{
		ConfigFile: *configFile,
		APIAddr:    *apiAddr,
		GRPCAddr:   *grpcAddr,
		Level:      level,
		Debug:      *debug,
		Syslog:     handler,
	})

	err := d.Run(context.Background())
	handler.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "homegwd: %v\n", err)
		os.Exit(1)
	}
}
