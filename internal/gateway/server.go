package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/config"
	"github.com/wudi/routeplane/internal/engine"
	"github.com/wudi/routeplane/internal/health"
	"github.com/wudi/routeplane/internal/listener"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/publisher"
	"github.com/wudi/routeplane/internal/routing"
)

// Deps are the components the server routes traffic through.
type Deps struct {
	Engine    *engine.Engine
	Forwarder engine.Forwarder
	Publisher *publisher.Publisher
	Checker   *health.Checker
	Metrics   *metrics.Collector
	// Version is reported on /version.
	Version string
}

// Server binds the data-plane listeners and the admin endpoint.
type Server struct {
	cfg       *config.Config
	deps      Deps
	manager   *listener.Manager
	listeners []*listener.HTTPListener
	logger    *zap.Logger
	startTime time.Time

	mu          sync.Mutex
	adminServer *http.Server
	adminAddr   net.Addr
}

// NewServer creates a server for cfg. Listeners are created but not bound.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Forwarder == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("engine, forwarder and publisher are required")
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		manager:   listener.NewManager(),
		logger:    logging.Global(),
		startTime: time.Now(),
	}
	if err := s.initListeners(); err != nil {
		return nil, fmt.Errorf("failed to initialize listeners: %w", err)
	}
	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
	}
	return s, nil
}

func (s *Server) initListeners() error {
	for _, lc := range s.cfg.Listeners {
		key := routing.ListenerKey{Port: lc.Port, Protocol: model.Protocol(lc.Protocol)}
		scheme := "http"
		if key.Protocol == model.ProtocolHTTPS {
			scheme = "https"
		}
		l, err := listener.NewHTTPListener(listener.HTTPListenerConfig{
			ID:                lc.ID,
			Address:           lc.Address,
			Handler:           s.deps.Engine.Handler(key, scheme, s.deps.Forwarder),
			CertFile:          lc.TLS.CertFile,
			KeyFile:           lc.TLS.KeyFile,
			ReadTimeout:       lc.HTTP.ReadTimeout,
			ReadHeaderTimeout: lc.HTTP.ReadHeaderTimeout,
			WriteTimeout:      lc.HTTP.WriteTimeout,
			IdleTimeout:       lc.HTTP.IdleTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create listener %s: %w", lc.ID, err)
		}
		if err := s.manager.Add(l); err != nil {
			return fmt.Errorf("failed to add listener %s: %w", lc.ID, err)
		}
		s.listeners = append(s.listeners, l)
	}
	return nil
}

// Start binds every listener and the admin server. Serving continues in
// the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.StartAll(ctx); err != nil {
		return err
	}
	if s.adminServer == nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.adminServer.Addr)
	if err != nil {
		_ = s.manager.StopAll(ctx)
		return fmt.Errorf("admin server: %w", err)
	}
	s.mu.Lock()
	s.adminAddr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("starting admin server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.adminServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", zap.Error(err))
		}
	}()
	return nil
}

// Run starts the server, blocks until ctx is done and then shuts down
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logging.Info("shutting down gracefully")

	timeout := s.cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the admin server first, then drains the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	if err := s.manager.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// ReloadTLS re-reads every listener certificate from disk.
func (s *Server) ReloadTLS() error {
	var errs []error
	for _, l := range s.listeners {
		if err := l.ReloadTLSCert(); err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", l.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// AdminAddr returns the bound admin address, or "" before Start.
func (s *Server) AdminAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminAddr == nil {
		return ""
	}
	return s.adminAddr.String()
}

// ListenerAddr returns the bound address of the listener with id.
func (s *Server) ListenerAddr(id string) (string, bool) {
	l, ok := s.manager.Get(id)
	if !ok {
		return "", false
	}
	return l.Addr(), true
}

// BuildProbes derives the external probe of every configured listener.
func BuildProbes(listeners []config.ListenerConfig) ([]health.Probe, error) {
	probes := make([]health.Probe, 0, len(listeners))
	for _, lc := range listeners {
		p, err := health.NewProbe(health.ProbeSpec{
			Listener: lc.ID,
			Port:     lc.Port,
			Protocol: lc.Protocol,
			Path:     lc.Probe.Path,
			Expected: lc.Probe.ExpectedStatus,
			Timeout:  lc.Probe.Timeout,
		})
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}
