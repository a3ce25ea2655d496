package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/routeplane/internal/attach"
	"github.com/wudi/routeplane/internal/compiler"
	"github.com/wudi/routeplane/internal/config"
	"github.com/wudi/routeplane/internal/engine"
	"github.com/wudi/routeplane/internal/gateway"
	"github.com/wudi/routeplane/internal/health"
	"github.com/wudi/routeplane/internal/ingress"
	"github.com/wudi/routeplane/internal/loadbalancer"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/mirror"
	"github.com/wudi/routeplane/internal/proxy"
	"github.com/wudi/routeplane/internal/publisher"
	"github.com/wudi/routeplane/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/routeplane.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration (and the manifest for the file source) and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("routeplane %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		if cfg.Source == config.SourceFile {
			if _, err := loader.LoadManifest(cfg.File.Path); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid manifest: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting routeplane",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("source", string(cfg.Source)),
		zap.Int("listeners", len(cfg.Listeners)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logging.Error("routeplane exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// run wires the control plane and the data plane and blocks until ctx is
// done or a component fails.
func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.NewCollector()
	resources := store.New()
	selector := loadbalancer.NewSelector()

	var (
		elector  publisher.Elector = publisher.AlwaysLeader{}
		resolver compiler.Resolver
		source   publisher.Source = resources
		ctrl     *ingress.Controller
		watcher  *config.Watcher
	)

	switch cfg.Source {
	case config.SourceKubernetes:
		k := cfg.Kubernetes
		var err error
		ctrl, err = ingress.NewController(resources, ingress.Options{
			ControllerName:          k.ControllerName,
			Namespaces:              k.Namespaces,
			Kubeconfig:              k.Kubeconfig,
			LeaderElection:          k.LeaderElection,
			LeaderElectionID:        k.LeaderElectionID,
			LeaderElectionNamespace: k.LeaderElectionNamespace,
			MetricsAddr:             k.MetricsAddr,
			HealthAddr:              k.HealthAddr,
			StatusAddress:           k.StatusAddress,
		})
		if err != nil {
			return fmt.Errorf("kubernetes controller: %w", err)
		}
		elector = ctrl.Elector()
		resolver = ctrl.Resolver()
		source = ctrl.Source()
	default:
		var err error
		watcher, err = config.NewWatcher(cfg.File.Path, cfg.File.Debounce)
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		initial := watcher.Manifest()
		resources.Replace(initial.Gateways, initial.Routes)
		resolver = fileResolver(cfg.Resolver)
	}

	comp := compiler.New(
		compiler.WithResolver(resolver),
		compiler.WithFilter(attach.NewFilter(attach.NewLogAdvisor(logging.Global().Named("attach"), m))),
	)
	pub := publisher.New(elector, m)

	recOpts := []publisher.ReconcilerOption{
		publisher.WithDebounce(cfg.Reconcile.Debounce),
		publisher.WithMetrics(m),
	}
	if ctrl != nil {
		recOpts = append(recOpts, publisher.WithStatusWriter(ctrl.StatusWriter()))
	}
	reconciler := publisher.NewReconciler(source, comp, pub, recOpts...)

	mirrors := mirror.New(mirror.Options{
		Timeout:      cfg.Mirror.Timeout,
		Rate:         cfg.Mirror.Rate,
		Burst:        cfg.Mirror.Burst,
		MaxBodyBytes: cfg.Mirror.MaxBodyBytes,
	}, selector, m)
	eng := engine.New(pub,
		engine.WithSelector(selector),
		engine.WithMirrorer(mirrors),
		engine.WithMetrics(m),
	)
	fwd := proxy.New(proxy.Config{
		Transport:     proxy.NewTransport(proxy.MergeUpstreamConfig(proxy.DefaultTransportConfig, cfg.Upstream)),
		FlushInterval: cfg.Upstream.FlushInterval,
	})

	probes, err := gateway.BuildProbes(cfg.Listeners)
	if err != nil {
		return err
	}
	server, err := gateway.NewServer(cfg, gateway.Deps{
		Engine:    eng,
		Forwarder: fwd,
		Publisher: pub,
		Checker:   health.NewChecker("127.0.0.1", probes),
		Metrics:   m,
		Version:   version,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Mirror.Timeout)
			defer cancel()
			if err := mirrors.Wait(drainCtx); err != nil {
				logging.Warn("mirror drain incomplete", zap.Error(err))
			}
		}()
		return watchSignals(gctx, server)
	})

	if ctrl != nil {
		ctrl.OnChange(reconciler.Trigger)
		g.Go(func() error {
			return ctrl.Start(gctx)
		})
	} else {
		watcher.OnChange(func(mf *config.Manifest) {
			resources.Replace(mf.Gateways, mf.Routes)
			reconciler.Trigger()
		})
		if cfg.File.Watch {
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
		reconciler.Trigger()
	}

	return g.Wait()
}

func fileResolver(rc config.ResolverConfig) compiler.Resolver {
	if rc.Type == config.ResolverDNS {
		return compiler.NewDNSResolver(compiler.DNSOptions{
			Domain:     rc.Domain,
			Nameserver: rc.Nameserver,
			Timeout:    rc.Timeout,
		})
	}
	return compiler.StaticResolver{}
}

// watchSignals reloads listener certificates on SIGHUP until ctx is done.
func watchSignals(ctx context.Context, server *gateway.Server) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := server.ReloadTLS(); err != nil {
				logging.Error("TLS certificate reload failed", zap.Error(err))
				continue
			}
			logging.Info("TLS certificates reloaded")
		}
	}
}
