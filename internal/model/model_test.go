package model

import (
	"strings"
	"testing"
)

func int32p(v int32) *int32 { return &v }

func TestParseHostname(t *testing.T) {
	tests := []struct {
		in   string
		want HostnameMatch
	}{
		{"api.example.com", HostnameMatch{Type: HostnameExact, Value: "api.example.com"}},
		{"API.Example.com", HostnameMatch{Type: HostnameExact, Value: "api.example.com"}},
		{"*.example.com", HostnameMatch{Type: HostnameSuffix, Value: ".example.com"}},
		{"*", HostnameMatch{Type: HostnameSuffix, Value: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseHostname(tt.in); got != tt.want {
				t.Errorf("ParseHostname(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHostnameMatches(t *testing.T) {
	tests := []struct {
		m    HostnameMatch
		host string
		want bool
	}{
		{ExactHost("api.example.com"), "api.example.com", true},
		{ExactHost("api.example.com"), "www.example.com", false},
		{SuffixHost(".example.com"), "api.example.com", true},
		{SuffixHost("*.example.com"), "api.example.com", true},
		{SuffixHost(".example.com"), "example.org", false},
		{SuffixHost(""), "anything.test", true},
		{HostnameMatch{Type: "Bogus", Value: "x"}, "x", false},
	}
	for _, tt := range tests {
		if got := tt.m.Matches(tt.host); got != tt.want {
			t.Errorf("%s.Matches(%q) = %v, want %v", tt.m, tt.host, got, tt.want)
		}
	}
}

func TestBackendRefDefaults(t *testing.T) {
	b := BackendRef{Name: "svc", Port: 80}
	if b.EffectiveWeight() != 1 {
		t.Errorf("default weight = %d, want 1", b.EffectiveWeight())
	}
	b.Weight = int32p(0)
	if b.EffectiveWeight() != 0 {
		t.Errorf("explicit zero weight = %d, want 0", b.EffectiveWeight())
	}
	if got := b.Target("shop"); got != Key("shop", "svc") {
		t.Errorf("Target = %v", got)
	}
	b.Namespace = "backends"
	if got := b.Target("shop"); got != Key("backends", "svc") {
		t.Errorf("Target = %v", got)
	}
}

func TestRouteParentKey(t *testing.T) {
	r := &Route{Namespace: "shop", Name: "r"}
	if got := r.ParentKey(ParentRef{Name: "gw"}); got != Key("shop", "gw") {
		t.Errorf("ParentKey = %v", got)
	}
	if got := r.ParentKey(ParentRef{Namespace: "infra", Name: "gw"}); got != Key("infra", "gw") {
		t.Errorf("ParentKey = %v", got)
	}
}

func validRoute() *Route {
	return &Route{
		Namespace:   "default",
		Name:        "api",
		ParentRefs:  []ParentRef{{Name: "main"}},
		HostHeaders: []HostnameMatch{ExactHost("api.example.com")},
		Rules: []Rule{{
			UniqueID: "get-products",
			Matches:  []Match{{Method: "GET", Path: &PathMatch{Type: PathPrefix, Value: "/products"}}},
			Backends: []BackendRef{{Port: 8081, Endpoints: []Endpoint{{Address: "10.10.1.10"}}}},
		}},
	}
}

func TestValidateRoute(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Route)
		wantErr string
	}{
		{"valid", func(r *Route) {}, ""},
		{"missing unique id", func(r *Route) { r.Rules[0].UniqueID = "" }, "rules[0].unique_id"},
		{"no parents", func(r *Route) { r.ParentRefs = nil }, "parent_refs"},
		{"bad method", func(r *Route) { r.Rules[0].Matches[0].Method = "FETCH" }, "method"},
		{"relative path", func(r *Route) { r.Rules[0].Matches[0].Path.Value = "products" }, "path.value"},
		{"negative weight", func(r *Route) { r.Rules[0].Backends[0].Weight = int32p(-1) }, "weight"},
		{"bad port", func(r *Route) { r.Rules[0].Backends[0].Port = 0 }, "port"},
		{"bad header name", func(r *Route) {
			r.Rules[0].Matches[0].Headers = []ValueMatch{{Name: "bad header", Value: "x"}}
		}, "headers[0].name"},
		{"filter variant mismatch", func(r *Route) {
			r.Rules[0].Filters = []Filter{{Type: FilterURLRewrite, StaticResponse: &StaticResponse{StatusCode: 200}}}
		}, "url_rewrite"},
		{"two filter variants", func(r *Route) {
			r.Rules[0].Filters = []Filter{{
				Type:           FilterStaticResponse,
				StaticResponse: &StaticResponse{StatusCode: 200},
				URLRewrite:     &URLRewrite{},
			}}
		}, "exactly one"},
		{"redirect status", func(r *Route) {
			r.Rules[0].Filters = []Filter{{Type: FilterRequestRedirect, RequestRedirect: &Redirect{StatusCode: 307}}}
		}, "status_code"},
		{"prefix rewrite on regex", func(r *Route) {
			r.Rules[0].Matches[0].Path = &PathMatch{Type: PathRegularExpression, Value: "/p/.*"}
			r.Rules[0].Filters = []Filter{{Type: FilterURLRewrite, URLRewrite: &URLRewrite{
				Path: &PathModifier{Type: ReplacePrefixMatch, Value: "/v2"},
			}}}
		}, "ReplacePrefixMatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRoute()
			tt.mutate(r)
			errs := ValidateRoute(r)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(errs.ToAggregate().Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", errs.ToAggregate().Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateGateway(t *testing.T) {
	gw := &Gateway{
		Namespace: "default",
		Name:      "main",
		Listeners: []Listener{
			{Name: "http", Port: 80, Protocol: ProtocolHTTP},
			{Name: "http", Port: 70000, Protocol: "UDP"},
		},
	}
	errs := ValidateGateway(gw)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors (duplicate, port, protocol), got %d: %v", len(errs), errs)
	}

	gw.Listeners = gw.Listeners[:1]
	h := SuffixHost("*.example.com")
	gw.Listeners[0].Hostname = &h
	if errs := ValidateGateway(gw); len(errs) != 0 {
		t.Errorf("expected valid gateway, got %v", errs)
	}
}
