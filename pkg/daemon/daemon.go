// Package daemon implements the homegw daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/psaab/homegw/pkg/api"
	"github.com/psaab/homegw/pkg/config"
	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/logging"
	"github.com/psaab/homegw/pkg/netcfg"
	"github.com/psaab/homegw/pkg/netmon"
	"github.com/psaab/homegw/pkg/proc"
	"github.com/psaab/homegw/pkg/rpc"
	"github.com/psaab/homegw/pkg/tunnel"
)

// Options configures the daemon.
type Options struct {
	ConfigFile string
	// APIAddr and GRPCAddr override the configured listen addresses.
	APIAddr  string
	GRPCAddr string

	// Level is adjusted to the configured log level unless Debug is set.
	Level *slog.LevelVar
	Debug bool
	// Syslog receives the configured remote syslog targets. May be nil.
	Syslog *logging.SyslogSlogHandler
}

// Daemon is the main homegw daemon.
type Daemon struct {
	opts Options
	cfg  *config.Config

	conns []*grpc.ClientConn
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = config.DefaultPath
	}
	return &Daemon{opts: opts}
}

// Run starts the daemon and blocks until shutdown. It returns an error
// only for startup failures; shutdown always runs the controller's
// teardown first.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting homegw daemon",
		"config", d.opts.ConfigFile,
		"pid", os.Getpid())

	cfg, err := config.Load(d.opts.ConfigFile)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		slog.Warn("config: " + w)
	}
	if d.opts.APIAddr != "" {
		cfg.APIAddr = d.opts.APIAddr
	}
	if d.opts.GRPCAddr != "" {
		cfg.GRPCAddr = d.opts.GRPCAddr
	}
	d.cfg = cfg
	d.applyLogConfig()
	defer d.closeConns()

	runner := proc.Exec{}
	gw, err := d.dialGateway(ctx)
	if err != nil {
		return err
	}

	nc, err := netcfg.New(cfg.SysctlRoot)
	if err != nil {
		return err
	}
	defer nc.Close()

	ep, err := d.endpoint(ctx, runner, nc)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	registry := prometheus.NewRegistry()
	eventBuf := logging.NewEventBuffer(1000)
	queue := event.NewQueue(event.DefaultQueueSize)
	ctrl := controller.New(controllerOptions(cfg), controller.Dependencies{
		Net:        nc,
		Runner:     runner,
		DHCP:       dhcpBackend(cfg, runner),
		Gateway:    gw,
		Endpoint:   ep,
		Registerer: registry,
		History:    eventBuf,
	}, queue)

	// Services stop only after the controller has torn down.
	svcCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServices()

	var wg sync.WaitGroup
	fatalCh := make(chan error, 3)

	grpcServer := grpc.NewServer()
	rpc.RegisterStatus(grpcServer, func() any {
		return statusView{Status: ctrl.Status(), Events: eventBuf.Latest(100)}
	})
	if ep != nil && cfg.Tunnel.Endpoint == config.EndpointExec {
		rpc.RegisterEndpoint(grpcServer, ep)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			fatalCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	apiServer := api.NewServer(api.Config{
		Addr:     cfg.APIAddr,
		Status:   ctrl.Status,
		Registry: registry,
		EventBuf: eventBuf,
		Auth:     authConfig(cfg.APIAuth),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(svcCtx); err != nil {
			fatalCh <- fmt.Errorf("api: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := netmon.New(queue).Run(svcCtx); err != nil {
			fatalCh <- err
		}
	}()

	go ctrl.Run(ctx)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		slog.Info("shutdown requested")
	case err := <-fatalCh:
		slog.Error("service failed, shutting down", "err", err)
		runErr = err
	case <-ctrl.Done():
	}

	// Quit is queued behind any pending notification.
	if err := queue.Post(ctx, event.Event{Kind: event.Quit}); err != nil {
		slog.Debug("quit not queued", "err", err)
	}
	<-ctrl.Done()

	stopServices()
	grpcServer.GracefulStop()
	wg.Wait()
	slog.Info("homegw daemon stopped")
	return runErr
}

// statusView is served by the gRPC status service.
type statusView struct {
	*controller.Status
	Events []logging.EventRecord `json:"events"`
}

func (d *Daemon) applyLogConfig() {
	if d.opts.Level != nil && !d.opts.Debug {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(d.cfg.Log.Level)); err == nil {
			d.opts.Level.Set(lvl)
		}
	}
	if d.opts.Syslog != nil {
		d.opts.Syslog.SetClients(syslogClients(d.cfg.Log.Syslog))
	}
}

func (d *Daemon) dialGateway(ctx context.Context) (tunnel.Gateway, error) {
	if d.cfg.Tunnel.Link == "" {
		return nil, nil
	}
	cc, err := d.dial(ctx, d.cfg.Tunnel.GatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("tunnel gateway: %w", err)
	}
	return rpc.NewGatewayClient(cc), nil
}

func (d *Daemon) endpoint(ctx context.Context, runner proc.Runner, nc netcfg.Configurator) (tunnel.Endpoint, error) {
	t := d.cfg.Tunnel
	if t.Link == "" {
		return nil, nil
	}
	if t.Endpoint == config.EndpointRPC {
		cc, err := d.dial(ctx, t.EndpointAddr)
		if err != nil {
			return nil, fmt.Errorf("tunnel endpoint: %w", err)
		}
		return rpc.NewEndpointClient(cc), nil
	}
	return l2tpEndpoint(t.IPBinary, runner, nc), nil
}

func (d *Daemon) dial(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.Tunnel.DialTimeout.Std())
	defer cancel()
	cc, err := rpc.Dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	d.conns = append(d.conns, cc)
	slog.Info("connected", "addr", addr)
	return cc, nil
}

func (d *Daemon) closeConns() {
	for _, cc := range d.conns {
		cc.Close()
	}
	d.conns = nil
}
