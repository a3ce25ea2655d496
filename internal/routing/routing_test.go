package routing

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wudi/routeplane/internal/model"
)

var httpKey = ListenerKey{Port: 80, Protocol: model.ProtocolHTTP}

func mustMatcher(t *testing.T, m model.Match) *Matcher {
	t.Helper()
	cm, err := NewMatcher(m)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return cm
}

func view(method, target string, headers map[string]string) *RequestView {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return NewRequestView(r)
}

func TestMatcherPath(t *testing.T) {
	tests := []struct {
		name string
		path *model.PathMatch
		req  string
		want bool
	}{
		{"exact hit", &model.PathMatch{Type: model.PathExact, Value: "/login"}, "/login", true},
		{"exact miss on subpath", &model.PathMatch{Type: model.PathExact, Value: "/login"}, "/login/x", false},
		{"prefix equal", &model.PathMatch{Type: model.PathPrefix, Value: "/products"}, "/products", true},
		{"prefix subpath", &model.PathMatch{Type: model.PathPrefix, Value: "/products"}, "/products/123", true},
		{"prefix not at boundary", &model.PathMatch{Type: model.PathPrefix, Value: "/products"}, "/productsX", false},
		{"prefix trailing slash", &model.PathMatch{Type: model.PathPrefix, Value: "/products/"}, "/products", true},
		{"root prefix", &model.PathMatch{Type: model.PathPrefix, Value: "/"}, "/anything/here", true},
		{"regex full match", &model.PathMatch{Type: model.PathRegularExpression, Value: "/v[0-9]+/items"}, "/v2/items", true},
		{"regex partial is miss", &model.PathMatch{Type: model.PathRegularExpression, Value: "/v[0-9]+"}, "/v2/items", false},
		{"no path constraint", nil, "/whatever", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMatcher(t, model.Match{Path: tt.path})
			if got := m.Matches(view("GET", tt.req, nil)); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.req, got, tt.want)
			}
		})
	}
}

func TestMatcherHeadersQueryMethod(t *testing.T) {
	m := mustMatcher(t, model.Match{
		Method:      "POST",
		Headers:     []model.ValueMatch{{Name: "content-type", Value: "application/json"}},
		QueryParams: []model.ValueMatch{{Name: "promo", Type: model.ValueRegularExpression, Value: "[A-Z]{5}[0-9]{2}"}},
	})

	tests := []struct {
		name    string
		method  string
		target  string
		headers map[string]string
		want    bool
	}{
		{"all satisfied", "POST", "/checkout?promo=ABCDE12", map[string]string{"Content-Type": "application/json"}, true},
		{"wrong method", "GET", "/checkout?promo=ABCDE12", map[string]string{"Content-Type": "application/json"}, false},
		{"missing header", "POST", "/checkout?promo=ABCDE12", nil, false},
		{"missing query", "POST", "/checkout", map[string]string{"Content-Type": "application/json"}, false},
		{"regex not full", "POST", "/checkout?promo=ABCDE123", map[string]string{"Content-Type": "application/json"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Matches(view(tt.method, tt.target, tt.headers)); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatcherInvalidRegex(t *testing.T) {
	if _, err := NewMatcher(model.Match{Path: &model.PathMatch{Type: model.PathRegularExpression, Value: "(["}}); err == nil {
		t.Error("expected error for invalid path regex")
	}
	if _, err := NewMatcher(model.Match{Headers: []model.ValueMatch{{Name: "x", Type: model.ValueRegularExpression, Value: "(?P<"}}}); err == nil {
		t.Error("expected error for invalid header regex")
	}
}

func TestCompiledRegexIsShared(t *testing.T) {
	m := model.Match{Path: &model.PathMatch{Type: model.PathRegularExpression, Value: "/items/[0-9]+"}}
	a := mustMatcher(t, m)
	b := mustMatcher(t, m)
	if a.pathRegex != b.pathRegex {
		t.Error("identical patterns should reuse the compiled regex")
	}
	if !a.pathRegex.MatchString("/items/42") || a.pathRegex.MatchString("/items/42/x") {
		t.Error("cached regex must stay anchored")
	}
}

// buildTable places one rule per match into a single catch-all bucket, in
// declaration order.
func buildTable(t *testing.T, matches map[string]model.Match, order []string) *Table {
	t.Helper()
	b := NewBuilder()
	b.AddListener(httpKey, "http", nil)
	for i, id := range order {
		r := b.NewRule(id, model.Key("default", "r"), i, []*Matcher{mustMatcher(t, matches[id])}, nil, nil)
		b.Place(httpKey, model.SuffixHost(""), r)
	}
	return b.Build(1, time.Now())
}

func bucketOrder(t *testing.T, tbl *Table) []string {
	t.Helper()
	lb, ok := tbl.Listener(httpKey)
	if !ok {
		t.Fatal("listener bucket missing")
	}
	hb, ok := lb.Host("example.com")
	if !ok {
		t.Fatal("catch-all bucket missing")
	}
	return hb.Order()
}

func TestSpecificityOrder(t *testing.T) {
	matches := map[string]model.Match{
		"none":          {},
		"regex-short":   {Path: &model.PathMatch{Type: model.PathRegularExpression, Value: "/a.*"}},
		"regex-long":    {Path: &model.PathMatch{Type: model.PathRegularExpression, Value: "/api/.*"}},
		"prefix-short":  {Path: &model.PathMatch{Type: model.PathPrefix, Value: "/api"}},
		"prefix-long":   {Path: &model.PathMatch{Type: model.PathPrefix, Value: "/api/v1"}},
		"prefix-header": {Path: &model.PathMatch{Type: model.PathPrefix, Value: "/api"}, Headers: []model.ValueMatch{{Name: "x", Value: "1"}}},
		"prefix-method": {Method: "GET", Path: &model.PathMatch{Type: model.PathPrefix, Value: "/api"}},
		"exact":         {Path: &model.PathMatch{Type: model.PathExact, Value: "/api"}},
	}
	want := []string{"exact", "prefix-long", "prefix-header", "prefix-method", "prefix-short", "regex-long", "regex-short", "none"}

	declared := []string{"none", "regex-short", "prefix-short", "prefix-method", "regex-long", "prefix-header", "exact", "prefix-long"}
	got := bucketOrder(t, buildTable(t, matches, declared))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	reversed := make([]string, len(declared))
	for i := range declared {
		reversed[i] = declared[len(declared)-1-i]
	}
	got = bucketOrder(t, buildTable(t, matches, reversed))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order after reversing declarations = %v, want %v", got, want)
	}
}

func TestDeclarationOrderBreaksTies(t *testing.T) {
	same := model.Match{Path: &model.PathMatch{Type: model.PathPrefix, Value: "/x"}}
	matches := map[string]model.Match{"first": same, "second": same}

	got := bucketOrder(t, buildTable(t, matches, []string{"second", "first"}))
	if !reflect.DeepEqual(got, []string{"second", "first"}) {
		t.Errorf("order = %v, want declaration order", got)
	}
}

func TestExactOutranksPrefixAtRequestTime(t *testing.T) {
	matches := map[string]model.Match{
		"prefix": {Path: &model.PathMatch{Type: model.PathPrefix, Value: "/login"}},
		"exact":  {Path: &model.PathMatch{Type: model.PathExact, Value: "/login"}},
	}
	tbl := buildTable(t, matches, []string{"prefix", "exact"})
	m, ok := tbl.Lookup(httpKey, "example.com", view("GET", "/login", nil))
	if !ok || m.Rule.ID != "exact" {
		t.Fatalf("expected exact rule, got %+v", m)
	}
	m, ok = tbl.Lookup(httpKey, "example.com", view("GET", "/login/2fa", nil))
	if !ok || m.Rule.ID != "prefix" {
		t.Fatalf("expected prefix rule, got %+v", m)
	}
}

func TestHostBucketSelection(t *testing.T) {
	b := NewBuilder()
	b.AddListener(httpKey, "http", nil)
	place := func(id string, host model.HostnameMatch) {
		r := b.NewRule(id, model.Key("default", id), 0, nil, nil, nil)
		b.Place(httpKey, host, r)
	}
	place("catch-all", model.SuffixHost(""))
	place("short-suffix", model.SuffixHost(".example.com"))
	place("long-suffix", model.SuffixHost(".api.example.com"))
	place("exact", model.ExactHost("api.example.com"))
	tbl := b.Build(1, time.Now())

	tests := []struct {
		host string
		want string
	}{
		{"api.example.com", "exact"},
		{"API.example.com:8080", "exact"},
		{"v1.api.example.com", "long-suffix"},
		{"shop.example.com", "short-suffix"},
		{"shop.example.com.", "short-suffix"},
		{"other.test", "catch-all"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			m, ok := tbl.Lookup(httpKey, tt.host, view("GET", "/", nil))
			if !ok {
				t.Fatal("expected a match")
			}
			if m.Rule.ID != tt.want {
				t.Errorf("host %q matched %s, want %s", tt.host, m.Rule.ID, tt.want)
			}
		})
	}

	if _, ok := tbl.Lookup(ListenerKey{Port: 443, Protocol: model.ProtocolHTTPS}, "api.example.com", view("GET", "/", nil)); ok {
		t.Error("expected no match on unknown listener")
	}
}

func TestNoFallbackToLessSpecificHost(t *testing.T) {
	b := NewBuilder()
	exact := b.NewRule("exact-login", model.Key("default", "a"), 0,
		[]*Matcher{mustMatcher(t, model.Match{Path: &model.PathMatch{Type: model.PathExact, Value: "/login"}})}, nil, nil)
	b.Place(httpKey, model.ExactHost("api.example.com"), exact)
	b.Place(httpKey, model.SuffixHost(".example.com"), b.NewRule("wide", model.Key("default", "b"), 0, nil, nil, nil))
	tbl := b.Build(1, time.Now())

	if _, ok := tbl.Lookup(httpKey, "api.example.com", view("GET", "/other", nil)); ok {
		t.Error("expected no match: the exact host bucket owns api.example.com")
	}
}

func TestPlaceIsIdempotentPerBucket(t *testing.T) {
	b := NewBuilder()
	r := b.NewRule("r", model.Key("default", "r"), 0, nil, nil, nil)
	b.Place(httpKey, model.ExactHost("a.test"), r)
	b.Place(httpKey, model.ExactHost("a.test"), r)
	tbl := b.Build(1, time.Now())

	lb, _ := tbl.Listener(httpKey)
	hb, _ := lb.Host("a.test")
	if n := len(hb.Order()); n != 1 {
		t.Errorf("expected 1 candidate, got %d", n)
	}
}

func TestDocumentAndHash(t *testing.T) {
	build := func(version uint64) *Table {
		b := NewBuilder()
		b.AddListener(httpKey, "http", nil)
		r := b.NewRule("get-products", model.Key("default", "api"), 0,
			[]*Matcher{mustMatcher(t, model.Match{Method: "GET", Path: &model.PathMatch{Type: model.PathPrefix, Value: "/products"}})},
			nil,
			[]model.BackendRef{{Port: 8081, Endpoints: []model.Endpoint{{Address: "10.10.1.10"}}}})
		b.Place(httpKey, model.ExactHost("api.example.com"), r)
		return b.Build(version, time.Now())
	}

	a, b := build(1), build(2)
	if a.Hash != b.Hash {
		t.Error("hash should not depend on version")
	}

	doc := a.Document()
	if len(doc.Listeners) != 1 || doc.Listeners[0].Port != 80 {
		t.Fatalf("unexpected listeners: %+v", doc.Listeners)
	}
	if len(doc.HTTPRoutes) != 1 || doc.HTTPRoutes[0].Rules[0].Backends[0].Weight != 1 {
		t.Fatalf("unexpected routes: %+v", doc.HTTPRoutes)
	}

	out, err := doc.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	for _, want := range []string{"unique_id: get-products", "http_routes:", "address: 10.10.1.10"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}

	js, err := doc.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(string(js), `"unique_id": "get-products"`) {
		t.Errorf("JSON output missing unique_id:\n%s", js)
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"Example.COM":         "example.com",
		"example.com:443":     "example.com",
		"example.com.":        "example.com",
		"[::1]:8080":          "::1",
		"[2001:db8::1]":       "2001:db8::1",
		"api.example.com.:80": "api.example.com",
	}
	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDocumentListenerHostname(t *testing.T) {
	b := NewBuilder()
	wildcard := model.SuffixHost("*.Example.com")
	b.AddListener(httpKey, "default/main/http", nil)
	b.AddListener(httpKey, "default/main/web", &wildcard)
	doc := b.Build(1, time.Now()).Document()

	if len(doc.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %+v", doc.Listeners)
	}
	if doc.Listeners[0].Name != "default/main/http" || doc.Listeners[0].Hostname != nil {
		t.Errorf("listener without hostname must omit it, got %+v", doc.Listeners[0])
	}
	web := doc.Listeners[1]
	if web.Hostname == nil || *web.Hostname != model.SuffixHost(".example.com") {
		t.Errorf("listener hostname must be exported, got %+v", web.Hostname)
	}

	js, err := doc.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(js), `"value": ".example.com"`) {
		t.Errorf("JSON output missing listener hostname:\n%s", js)
	}
}

func TestMatcherHostHeader(t *testing.T) {
	m := mustMatcher(t, model.Match{Headers: []model.ValueMatch{
		{Name: "host", Type: model.ValueRegularExpression, Value: `api\.example\.com(:\d+)?`},
	}})
	tests := []struct {
		target string
		want   bool
	}{
		{"http://api.example.com/", true},
		{"http://api.example.com:8080/", true},
		{"http://shop.example.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if _, ok := r.Header["Host"]; ok {
				t.Fatal("Host must not be carried in the header map")
			}
			if got := m.Matches(NewRequestView(r)); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}
