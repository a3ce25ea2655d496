package config

import (
	"strconv"
	"time"
)

// SourceType selects where declared resources come from.
type SourceType string

const (
	SourceFile       SourceType = "file"
	SourceKubernetes SourceType = "kubernetes"
)

// ResolverType selects how backend endpoints are resolved.
type ResolverType string

const (
	ResolverStatic ResolverType = "static"
	ResolverDNS    ResolverType = "dns"
)

// Config represents the complete daemon configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Admin      AdminConfig      `yaml:"admin"`
	Listeners  []ListenerConfig `yaml:"listeners"`
	Source     SourceType       `yaml:"source"`
	File       FileConfig       `yaml:"file"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or console
	Output     string `yaml:"output"` // stdout, stderr or a file path
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// AdminConfig defines the admin server
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	// ConfigDump exposes the published table on /config.
	ConfigDump bool `yaml:"config_dump"`
}

// ListenerConfig binds one data-plane port. Port and Protocol select the
// compiled listener bucket requests are matched against.
type ListenerConfig struct {
	ID       string      `yaml:"id"`
	Address  string      `yaml:"address"` // e.g. ":8080"; defaults to ":<port>"
	Port     int32       `yaml:"port"`
	Protocol string      `yaml:"protocol"` // HTTP or HTTPS
	TLS      TLSConfig   `yaml:"tls"`
	HTTP     HTTPConfig  `yaml:"http"`
	Probe    ProbeConfig `yaml:"probe"`
}

// TLSConfig defines the certificate of an HTTPS listener
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// HTTPConfig defines server timeouts
type HTTPConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// ProbeConfig describes how an external prober checks the listener.
type ProbeConfig struct {
	Path           string        `yaml:"path"`
	ExpectedStatus []string      `yaml:"expected_status"` // e.g. "200", "2xx", "200-299"
	Timeout        time.Duration `yaml:"timeout"`
}

// FileConfig configures the manifest source
type FileConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// KubernetesConfig configures the Kubernetes watch source
type KubernetesConfig struct {
	ControllerName          string   `yaml:"controller_name"`
	Namespaces              []string `yaml:"namespaces"`
	Kubeconfig              string   `yaml:"kubeconfig"`
	LeaderElection          bool     `yaml:"leader_election"`
	LeaderElectionID        string   `yaml:"leader_election_id"`
	LeaderElectionNamespace string   `yaml:"leader_election_namespace"`
	MetricsAddr             string   `yaml:"metrics_addr"`
	HealthAddr              string   `yaml:"health_addr"`
	StatusAddress           string   `yaml:"status_address"`
}

// ReconcileConfig controls recompilation
type ReconcileConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// UpstreamConfig tunes the transport used to forward to backends
type UpstreamConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	FlushInterval         time.Duration `yaml:"flush_interval"`
}

// MirrorConfig bounds request mirroring
type MirrorConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Rate         float64       `yaml:"rate"`
	Burst        int           `yaml:"burst"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// ResolverConfig selects backend endpoint resolution for the file source
type ResolverConfig struct {
	Type       ResolverType  `yaml:"type"`
	Domain     string        `yaml:"domain"`
	Nameserver string        `yaml:"nameserver"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ShutdownConfig defines graceful shutdown
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled:    true,
			Address:    ":8081",
			ConfigDump: true,
		},
		Source: SourceFile,
		File: FileConfig{
			Watch:    true,
			Debounce: 500 * time.Millisecond,
		},
		Kubernetes: KubernetesConfig{
			ControllerName:          "routeplane.io/gateway-controller",
			LeaderElection:          true,
			LeaderElectionID:        "routeplane-leader",
			LeaderElectionNamespace: "routeplane-system",
			MetricsAddr:             "0",
			HealthAddr:              "0",
		},
		Reconcile: ReconcileConfig{
			Debounce: 100 * time.Millisecond,
		},
		Upstream: UpstreamConfig{
			DialTimeout:         10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 32,
		},
		Mirror: MirrorConfig{
			Timeout:      5 * time.Second,
			Rate:         100,
			Burst:        50,
			MaxBodyBytes: 1 << 20,
		},
		Resolver: ResolverConfig{
			Type:    ResolverStatic,
			Domain:  "svc.cluster.local",
			Timeout: 2 * time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// defaultListener fills listener defaults.
func defaultListener(l *ListenerConfig) {
	if l.Protocol == "" {
		l.Protocol = "HTTP"
		if l.TLS.CertFile != "" {
			l.Protocol = "HTTPS"
		}
	}
	if l.Address == "" && l.Port > 0 {
		l.Address = ":" + strconv.Itoa(int(l.Port))
	}
	if l.HTTP.ReadHeaderTimeout == 0 {
		l.HTTP.ReadHeaderTimeout = 10 * time.Second
	}
	if l.HTTP.IdleTimeout == 0 {
		l.HTTP.IdleTimeout = 60 * time.Second
	}
	if l.Probe.Path == "" {
		l.Probe.Path = "/"
	}
	if len(l.Probe.ExpectedStatus) == 0 {
		l.Probe.ExpectedStatus = []string{"200-499"}
	}
	if l.Probe.Timeout == 0 {
		l.Probe.Timeout = 2 * time.Second
	}
}
