package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/logging"
)

// HTTPListener wraps an http.Server as a Listener
type HTTPListener struct {
	id       string
	address  string
	server   *http.Server
	tlsCfg   *tls.Config
	certFile string
	keyFile  string
	certPtr  atomic.Pointer[tls.Certificate]

	mu    sync.Mutex
	bound net.Addr
	done  chan struct{}
}

// HTTPListenerConfig holds configuration for creating an HTTP listener
type HTTPListenerConfig struct {
	ID      string
	Address string
	Handler http.Handler
	// CertFile and KeyFile enable TLS when both are set.
	CertFile          string
	KeyFile           string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// NewHTTPListener creates a new HTTP listener. The certificate is loaded
// eagerly so a bad key pair fails at startup.
func NewHTTPListener(cfg HTTPListenerConfig) (*HTTPListener, error) {
	h := &HTTPListener{
		id:       cfg.ID,
		address:  cfg.Address,
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if err := h.ReloadTLSCert(); err != nil {
			return nil, err
		}
		h.tlsCfg = &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return h.certPtr.Load(), nil
			},
			MinVersion: tls.VersionTLS12,
		}
	}

	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1MB
	}

	h.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           cfg.Handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		TLSConfig:         h.tlsCfg,
		ErrorLog:          zap.NewStdLog(logging.Global().Named("listener." + cfg.ID)),
	}
	return h, nil
}

// ID returns the listener ID
func (h *HTTPListener) ID() string {
	return h.id
}

// Protocol returns HTTPS when TLS is configured, HTTP otherwise
func (h *HTTPListener) Protocol() string {
	if h.tlsCfg != nil {
		return "HTTPS"
	}
	return "HTTP"
}

// Addr returns the bound address once started
func (h *HTTPListener) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound != nil {
		return h.bound.String()
	}
	return h.address
}

// Start binds the socket and serves in the background.
func (h *HTTPListener) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}

	h.mu.Lock()
	h.bound = ln.Addr()
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	if h.tlsCfg != nil {
		ln = tls.NewListener(ln, h.tlsCfg)
	}

	go func() {
		defer close(done)
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("listener serve failed", zap.String("id", h.id), zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (h *HTTPListener) Stop(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}

// ReloadTLSCert re-reads the key pair from disk and swaps it in without
// restarting the listener. It is a no-op for plain HTTP listeners.
func (h *HTTPListener) ReloadTLSCert() error {
	if h.certFile == "" && h.keyFile == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(h.certFile, h.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	h.certPtr.Store(&cert)
	return nil
}

// Server returns the underlying HTTP server
func (h *HTTPListener) Server() *http.Server {
	return h.server
}
