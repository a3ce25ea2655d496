package routing

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-yaml"

	"github.com/wudi/routeplane/internal/model"
)

// Document is the persisted form of a resolved routing table.
type Document struct {
	Version    uint64         `yaml:"version" json:"version"`
	Listeners  []DocListener  `yaml:"listeners" json:"listeners"`
	HTTPRoutes []DocHTTPRoute `yaml:"http_routes" json:"http_routes"`
}

type DocListener struct {
	Name     string               `yaml:"name" json:"name"`
	Port     int32                `yaml:"port" json:"port"`
	Protocol model.Protocol       `yaml:"protocol" json:"protocol"`
	Hostname *model.HostnameMatch `yaml:"hostname,omitempty" json:"hostname,omitempty"`
}

type DocHTTPRoute struct {
	Listener    string                `yaml:"listener" json:"listener"`
	HostHeaders []model.HostnameMatch `yaml:"host_headers" json:"host_headers"`
	Rules       []DocRule             `yaml:"rules" json:"rules"`
}

type DocRule struct {
	UniqueID string         `yaml:"unique_id" json:"unique_id"`
	Matches  []DocMatch     `yaml:"matches" json:"matches"`
	Filters  []model.Filter `yaml:"filters,omitempty" json:"filters,omitempty"`
	Backends []DocBackend   `yaml:"backends" json:"backends"`
}

type DocMatch struct {
	Method      string             `yaml:"method,omitempty" json:"method,omitempty"`
	Path        *model.PathMatch   `yaml:"path,omitempty" json:"path,omitempty"`
	Headers     []model.ValueMatch `yaml:"headers,omitempty" json:"headers,omitempty"`
	QueryParams []model.ValueMatch `yaml:"queryParams,omitempty" json:"queryParams,omitempty"`
}

type DocBackend struct {
	Weight    int32            `yaml:"weight" json:"weight"`
	Endpoints []model.Endpoint `yaml:"endpoints" json:"endpoints"`
	Port      int32            `yaml:"port" json:"port"`
}

// Document renders the table. Host buckets appear in lookup order and rules
// in priority order, so equal tables render identically.
func (t *Table) Document() *Document {
	doc := &Document{Version: t.Version}
	for _, key := range t.keys {
		lb := t.listeners[key]
		for _, name := range lb.Names {
			dl := DocListener{Name: name, Port: key.Port, Protocol: key.Protocol}
			if h, ok := lb.Hostname(name); ok {
				dl.Hostname = &h
			}
			doc.Listeners = append(doc.Listeners, dl)
		}
		for _, hb := range lb.HostBuckets() {
			hr := DocHTTPRoute{
				Listener:    key.String(),
				HostHeaders: []model.HostnameMatch{hb.Host},
			}
			for _, r := range hb.Rules() {
				hr.Rules = append(hr.Rules, docRule(r))
			}
			doc.HTTPRoutes = append(doc.HTTPRoutes, hr)
		}
	}
	return doc
}

func docRule(r *Rule) DocRule {
	dr := DocRule{UniqueID: r.ID, Filters: r.Filters}
	for _, m := range r.Matchers {
		src := m.Source()
		dr.Matches = append(dr.Matches, DocMatch{
			Method:      src.Method,
			Path:        src.Path,
			Headers:     src.Headers,
			QueryParams: src.QueryParams,
		})
	}
	for _, b := range r.Backends {
		dr.Backends = append(dr.Backends, DocBackend{
			Weight:    b.EffectiveWeight(),
			Endpoints: b.Endpoints,
			Port:      b.Port,
		})
	}
	return dr
}

// YAML encodes the document as YAML.
func (d *Document) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// JSON encodes the document as indented JSON.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// hashDocument fingerprints the table content, ignoring the version.
func hashDocument(d *Document) uint64 {
	c := *d
	c.Version = 0
	b, err := json.Marshal(&c)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
