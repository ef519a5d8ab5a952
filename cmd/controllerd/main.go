// Command controllerd is the network configuration controller's process
// entrypoint: it loads configuration, seeds the Device Registry, starts
// the reactor, and serves the gRPC RPC surface and HTTP debug endpoint
// until signaled to stop.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/netconfd/controller/internal/config"
	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/notify"
	"github.com/netconfd/controller/internal/reactor"
	"github.com/netconfd/controller/internal/rpcapi"
	"github.com/netconfd/controller/internal/schema"
	"github.com/netconfd/controller/internal/transport"
	"github.com/netconfd/controller/internal/txn"
)

var opts = struct {
	ConfigPath string `long:"config" description:"Path to the controllerd configuration file" required:"true"`
}{}

func main() {
	var parser = flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	var cfg, err = config.Load(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	var pipeline, pErr = schema.NewPipeline(cfg.SchemaCachePath, cfg.SchemaCompiledCacheSize, schema.DefaultPolicy())
	if pErr != nil {
		log.WithError(pErr).Fatal("failed to initialize schema pipeline")
	}

	var sshConfig, sshErr = cfg.SSHClientConfig()
	if sshErr != nil {
		log.WithError(sshErr).Fatal("failed to build SSH client configuration")
	}

	var store = datastore.NewMemStore()
	var loop = reactor.New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var registry = device.NewRegistry(device.HandleDeps{
		Loop:            loop,
		Dialer:          &transport.SSHDialer{Config: sshConfig},
		Pipeline:        pipeline,
		Store:           store,
		DeviceTimeout:   cfg.DeviceTimeout,
		FramingOverride: cfg.FramingOverride(),
		OnStateChange: func(name string, from, to device.State) {
			log.WithFields(log.Fields{"device": name, "from": from, "to": to}).Info("device state change")
		},
	})
	for i := range cfg.Devices {
		registry.Put(&cfg.Devices[i])
	}

	var notifier = notify.NewBroadcaster()
	var engine = txn.NewEngine(loop, registry, store, notifier, cfg.ServiceActionRunner(), cfg.DeviceTimeout)
	var server = rpcapi.NewServer(loop, registry, store, engine, notifier)

	registry.ConnectAll()

	var grpcServer = rpcapi.NewGRPCServer(server, cfg.RPCTokenSecret)
	var lis, lErr = net.Listen("tcp", cfg.ListenAddr)
	if lErr != nil {
		log.WithError(lErr).Fatal("failed to bind RPC listener")
	}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("serving RPC surface")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("RPC server stopped")
		}
	}()

	var httpServer = &http.Server{Addr: cfg.DebugAddr, Handler: rpcapi.NewDebugRouter(server)}
	go func() {
		log.WithField("addr", cfg.DebugAddr).Info("serving HTTP debug surface")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP debug server stopped")
		}
	}()

	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	grpcServer.GracefulStop()
	_ = httpServer.Shutdown(context.Background())
}
