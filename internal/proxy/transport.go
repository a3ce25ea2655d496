package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/wudi/routeplane/internal/config"
)

// TransportConfig configures the upstream HTTP transport
type TransportConfig struct {
	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Timeouts
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration

	DisableKeepAlives bool
}

// DefaultTransportConfig provides default transport settings
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           30 * time.Second,
	ResponseHeaderTimeout: 0, // no timeout
	ExpectContinueTimeout: 1 * time.Second,
}

// NewTransport creates a new HTTP transport with the given configuration.
// Endpoints are already resolved, so the transport never consults a proxy.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
	}
}

// MergeUpstreamConfig applies the non-zero values of the daemon's upstream
// section onto base.
func MergeUpstreamConfig(base TransportConfig, o config.UpstreamConfig) TransportConfig {
	if o.DialTimeout > 0 {
		base.DialTimeout = o.DialTimeout
	}
	if o.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = o.ResponseHeaderTimeout
	}
	if o.IdleConnTimeout > 0 {
		base.IdleConnTimeout = o.IdleConnTimeout
	}
	if o.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = o.MaxIdleConnsPerHost
		if base.MaxIdleConns < o.MaxIdleConnsPerHost {
			base.MaxIdleConns = o.MaxIdleConnsPerHost
		}
	}
	return base
}
