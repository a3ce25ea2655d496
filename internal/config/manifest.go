package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/wudi/routeplane/internal/model"
)

// DefaultNamespace is applied to manifest resources without a namespace.
const DefaultNamespace = "default"

// Manifest is the file form of the declared resources.
type Manifest struct {
	Gateways []*model.Gateway `yaml:"gateways"`
	Routes   []*model.Route   `yaml:"routes"`
}

// LoadManifest reads and parses a resource manifest.
func (l *Loader) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.ParseManifest(data)
}

// ParseManifest parses a resource manifest. Only structural problems fail
// the manifest; invalid resources are reported later by the compiler so
// one bad route never blocks the others.
func (l *Loader) ParseManifest(data []byte) (*Manifest, error) {
	expanded := l.expandEnvVars(string(data))

	m := &Manifest{}
	if err := yaml.Unmarshal([]byte(expanded), m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	gateways := make(map[model.ObjectKey]bool, len(m.Gateways))
	for i, gw := range m.Gateways {
		if gw == nil || gw.Name == "" {
			return nil, fmt.Errorf("gateways[%d]: name is required", i)
		}
		if gw.Namespace == "" {
			gw.Namespace = DefaultNamespace
		}
		if gateways[gw.Key()] {
			return nil, fmt.Errorf("duplicate gateway %s", gw.Key())
		}
		gateways[gw.Key()] = true
	}

	routes := make(map[model.ObjectKey]bool, len(m.Routes))
	for i, r := range m.Routes {
		if r == nil || r.Name == "" {
			return nil, fmt.Errorf("routes[%d]: name is required", i)
		}
		if r.Namespace == "" {
			r.Namespace = DefaultNamespace
		}
		if routes[r.Key()] {
			return nil, fmt.Errorf("duplicate route %s", r.Key())
		}
		routes[r.Key()] = true
	}
	return m, nil
}
