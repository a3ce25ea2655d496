package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/wudi/routeplane/internal/model"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range cfg.Listeners {
		defaultListener(&cfg.Listeners[i])
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	ids := make(map[string]bool)
	ports := make(map[int32]bool)
	for i, ln := range cfg.Listeners {
		if ln.ID == "" {
			return fmt.Errorf("listener %d: id is required", i)
		}
		if ids[ln.ID] {
			return fmt.Errorf("duplicate listener id: %s", ln.ID)
		}
		ids[ln.ID] = true

		if ln.Port <= 0 || ln.Port > 65535 {
			return fmt.Errorf("listener %s: port must be between 1 and 65535", ln.ID)
		}
		if ports[ln.Port] {
			return fmt.Errorf("listener %s: port %d already used", ln.ID, ln.Port)
		}
		ports[ln.Port] = true

		switch model.Protocol(ln.Protocol) {
		case model.ProtocolHTTP:
		case model.ProtocolHTTPS:
			if ln.TLS.CertFile == "" || ln.TLS.KeyFile == "" {
				return fmt.Errorf("listener %s: HTTPS requires tls.cert_file and tls.key_file", ln.ID)
			}
		default:
			return fmt.Errorf("listener %s: invalid protocol: %s", ln.ID, ln.Protocol)
		}
	}

	switch cfg.Source {
	case SourceFile:
		if cfg.File.Path == "" {
			return fmt.Errorf("file.path is required for the file source")
		}
	case SourceKubernetes:
		if cfg.Kubernetes.ControllerName == "" {
			return fmt.Errorf("kubernetes.controller_name is required")
		}
		if cfg.Kubernetes.LeaderElection && cfg.Kubernetes.LeaderElectionID == "" {
			return fmt.Errorf("kubernetes.leader_election_id is required when leader election is enabled")
		}
	default:
		return fmt.Errorf("invalid source: %s", cfg.Source)
	}

	switch cfg.Resolver.Type {
	case ResolverStatic, ResolverDNS:
	default:
		return fmt.Errorf("invalid resolver type: %s", cfg.Resolver.Type)
	}

	if cfg.Reconcile.Debounce < 0 {
		return fmt.Errorf("reconcile.debounce must not be negative")
	}
	if cfg.Upstream.DialTimeout < 0 || cfg.Upstream.ResponseHeaderTimeout < 0 || cfg.Upstream.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("upstream settings must not be negative")
	}
	if cfg.Mirror.Rate < 0 || cfg.Mirror.Burst < 0 {
		return fmt.Errorf("mirror.rate and mirror.burst must not be negative")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when the admin server is enabled")
	}
	return nil
}
