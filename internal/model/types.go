package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/types"
)

// ObjectKey identifies a namespaced resource. Resources reference each other
// by key, never by pointer.
type ObjectKey = types.NamespacedName

// Key builds an ObjectKey.
func Key(namespace, name string) ObjectKey {
	return ObjectKey{Namespace: namespace, Name: name}
}

// Protocol is the application protocol a listener accepts.
type Protocol string

const (
	ProtocolHTTP  Protocol = "HTTP"
	ProtocolHTTPS Protocol = "HTTPS"
)

// HostnameMatchType selects how a hostname value is compared.
type HostnameMatchType string

const (
	HostnameExact  HostnameMatchType = "Exact"
	HostnameSuffix HostnameMatchType = "Suffix"
)

// HostnameMatch matches a request Host header. A Suffix with an empty value
// matches every host.
type HostnameMatch struct {
	Type  HostnameMatchType `yaml:"type" json:"type"`
	Value string            `yaml:"value" json:"value"`
}

// ExactHost returns an exact hostname matcher.
func ExactHost(v string) HostnameMatch {
	return HostnameMatch{Type: HostnameExact, Value: strings.ToLower(v)}
}

// SuffixHost returns a suffix hostname matcher. A leading "*" is dropped so
// "*.example.com" and ".example.com" are equivalent.
func SuffixHost(v string) HostnameMatch {
	return HostnameMatch{Type: HostnameSuffix, Value: strings.ToLower(strings.TrimPrefix(v, "*"))}
}

// ParseHostname converts a Gateway API style hostname ("*.example.com" or
// "api.example.com") to a matcher.
func ParseHostname(h string) HostnameMatch {
	if strings.HasPrefix(h, "*") {
		return SuffixHost(h)
	}
	return ExactHost(h)
}

// Matches reports whether host (lowercase, port stripped) satisfies m.
func (m HostnameMatch) Matches(host string) bool {
	switch m.Type {
	case HostnameExact:
		return host == m.Value
	case HostnameSuffix:
		return strings.HasSuffix(host, m.Value)
	}
	return false
}

// Normalized lowercases the value and drops a leading "*" from suffixes.
func (m HostnameMatch) Normalized() HostnameMatch {
	if m.Type == HostnameSuffix {
		return SuffixHost(m.Value)
	}
	return HostnameMatch{Type: m.Type, Value: strings.ToLower(m.Value)}
}

// UnmarshalYAML accepts either the {type, value} form or a bare hostname
// such as "*.example.com".
func (m *HostnameMatch) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*m = ParseHostname(v)
	case map[string]any:
		t, _ := v["type"].(string)
		val, _ := v["value"].(string)
		*m = HostnameMatch{Type: HostnameMatchType(t), Value: val}
	default:
		return fmt.Errorf("hostname: unsupported value %v", raw)
	}
	return nil
}

func (m HostnameMatch) String() string {
	if m.Type == HostnameSuffix {
		return "*" + m.Value
	}
	return m.Value
}

// AllowedRoutesPolicy controls which namespaces may attach routes to a listener.
type AllowedRoutesPolicy string

const (
	PolicySame     AllowedRoutesPolicy = "Same"
	PolicyAll      AllowedRoutesPolicy = "All"
	PolicySelector AllowedRoutesPolicy = "Selector"
)

// Listener is a bound (port, protocol) ingress point on a Gateway.
type Listener struct {
	Name          string              `yaml:"name" json:"name"`
	Port          int32               `yaml:"port" json:"port"`
	Protocol      Protocol            `yaml:"protocol" json:"protocol"`
	Hostname      *HostnameMatch      `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	AllowedRoutes AllowedRoutesPolicy `yaml:"allowed_routes,omitempty" json:"allowed_routes,omitempty"`
}

// Gateway owns an ordered set of listeners.
type Gateway struct {
	Namespace string     `yaml:"namespace" json:"namespace"`
	Name      string     `yaml:"name" json:"name"`
	ClassName string     `yaml:"class_name,omitempty" json:"class_name,omitempty"`
	Listeners []Listener `yaml:"listeners" json:"listeners"`
}

// Key returns the gateway identity.
func (g *Gateway) Key() ObjectKey { return Key(g.Namespace, g.Name) }

// Listener returns the named listener.
func (g *Gateway) Listener(name string) (*Listener, bool) {
	for i := range g.Listeners {
		if g.Listeners[i].Name == name {
			return &g.Listeners[i], true
		}
	}
	return nil, false
}

// ParentRef names the gateway (and optionally one of its listeners) a route
// wants to attach to. An empty Namespace means the route's own namespace.
type ParentRef struct {
	Namespace   string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Name        string `yaml:"name" json:"name"`
	SectionName string `yaml:"section_name,omitempty" json:"section_name,omitempty"`
}

// Route is a bundle of rules attachable to one or more listeners.
type Route struct {
	Namespace   string          `yaml:"namespace" json:"namespace"`
	Name        string          `yaml:"name" json:"name"`
	ParentRefs  []ParentRef     `yaml:"parent_refs" json:"parent_refs"`
	HostHeaders []HostnameMatch `yaml:"host_headers,omitempty" json:"host_headers,omitempty"`
	Rules       []Rule          `yaml:"rules" json:"rules"`
}

// Key returns the route identity.
func (r *Route) Key() ObjectKey { return Key(r.Namespace, r.Name) }

// ParentKey resolves a parent ref against the route namespace.
func (r *Route) ParentKey(ref ParentRef) ObjectKey {
	ns := ref.Namespace
	if ns == "" {
		ns = r.Namespace
	}
	return Key(ns, ref.Name)
}

// Rule is a set of alternative matches sharing filters and backends.
type Rule struct {
	UniqueID string       `yaml:"unique_id" json:"unique_id"`
	Matches  []Match      `yaml:"matches,omitempty" json:"matches,omitempty"`
	Filters  []Filter     `yaml:"filters,omitempty" json:"filters,omitempty"`
	Backends []BackendRef `yaml:"backends,omitempty" json:"backends,omitempty"`
}

// PathMatchType selects how the request path is compared.
type PathMatchType string

const (
	PathExact             PathMatchType = "Exact"
	PathPrefix            PathMatchType = "Prefix"
	PathRegularExpression PathMatchType = "RegularExpression"
)

// PathMatch constrains the request path.
type PathMatch struct {
	Type  PathMatchType `yaml:"type" json:"type"`
	Value string        `yaml:"value" json:"value"`
}

// ValueMatchType selects how a header or query value is compared.
type ValueMatchType string

const (
	ValueExact             ValueMatchType = "Exact"
	ValueRegularExpression ValueMatchType = "RegularExpression"
)

// ValueMatch constrains one header or query parameter.
type ValueMatch struct {
	Name  string         `yaml:"name" json:"name"`
	Type  ValueMatchType `yaml:"type,omitempty" json:"type,omitempty"`
	Value string         `yaml:"value" json:"value"`
}

// Match is a conjunction of constraints. Absent fields are wildcards.
type Match struct {
	Method      string       `yaml:"method,omitempty" json:"method,omitempty"`
	Path        *PathMatch   `yaml:"path,omitempty" json:"path,omitempty"`
	Headers     []ValueMatch `yaml:"headers,omitempty" json:"headers,omitempty"`
	QueryParams []ValueMatch `yaml:"query_params,omitempty" json:"queryParams,omitempty"`
}

// Endpoint is a concrete network address. Node and Zone are affinity hints.
// Port overrides the backend port when set, as for a Service whose target
// port differs from its service port.
type Endpoint struct {
	Address string `yaml:"address" json:"address"`
	Port    int32  `yaml:"port,omitempty" json:"port,omitempty"`
	Node    string `yaml:"node,omitempty" json:"node,omitempty"`
	Zone    string `yaml:"zone,omitempty" json:"zone,omitempty"`
}

// HostPort joins the endpoint address with its port, or backendPort when
// the endpoint carries none.
func (e Endpoint) HostPort(backendPort int32) string {
	port := backendPort
	if e.Port > 0 {
		port = e.Port
	}
	return net.JoinHostPort(e.Address, strconv.Itoa(int(port)))
}

// BackendRef is a weighted backend set. Name/Namespace identify the logical
// target for endpoint resolution; Endpoints may also be declared inline.
type BackendRef struct {
	Name      string     `yaml:"name,omitempty" json:"name,omitempty"`
	Namespace string     `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Weight    *int32     `yaml:"weight,omitempty" json:"weight,omitempty"`
	Port      int32      `yaml:"port" json:"port"`
	Endpoints []Endpoint `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// EffectiveWeight returns the declared weight, defaulting to 1.
func (b BackendRef) EffectiveWeight() int32 {
	if b.Weight == nil {
		return 1
	}
	return *b.Weight
}

// Target resolves the backend identity against a default namespace.
func (b BackendRef) Target(defaultNamespace string) ObjectKey {
	ns := b.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	return Key(ns, b.Name)
}
