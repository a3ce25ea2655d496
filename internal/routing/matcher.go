package routing

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wudi/routeplane/internal/model"
)

// regexCacheSize bounds the compiled patterns kept across recompilations.
const regexCacheSize = 1024

var regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheSize)

// Path classes, most specific first.
const (
	pathNone  = 0
	pathRegex = 1
	pathPref  = 2
	pathExact = 3
)

// Matcher is the compiled form of one model.Match. Regexes are compiled
// once, anchored for full matching, on the linear-time RE2 engine.
type Matcher struct {
	source model.Match

	method    string
	pathClass int
	path      string // Exact value, or Prefix value without trailing slash
	pathRegex *regexp.Regexp
	headers   []valueMatcher
	queries   []valueMatcher
}

type valueMatcher struct {
	name  string
	exact string
	regex *regexp.Regexp
}

func (vm valueMatcher) matches(v string) bool {
	if vm.regex != nil {
		return vm.regex.MatchString(v)
	}
	return v == vm.exact
}

// RequestView is the part of a request the matchers look at. Query is
// parsed once per request.
type RequestView struct {
	Method string
	Path   string
	// Host is the request authority. The server removes it from Header.
	Host   string
	Header http.Header
	Query  url.Values
}

// NewRequestView extracts the matchable fields of r.
func NewRequestView(r *http.Request) *RequestView {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return &RequestView{
		Method: r.Method,
		Path:   path,
		Host:   r.Host,
		Header: r.Header,
		Query:  r.URL.Query(),
	}
}

// NewMatcher compiles m. It fails only on invalid regular expressions.
func NewMatcher(m model.Match) (*Matcher, error) {
	cm := &Matcher{source: m, method: strings.ToUpper(m.Method)}

	if m.Path != nil {
		switch m.Path.Type {
		case model.PathExact:
			cm.pathClass = pathExact
			cm.path = m.Path.Value
		case model.PathPrefix:
			cm.pathClass = pathPref
			cm.path = strings.TrimSuffix(m.Path.Value, "/")
		case model.PathRegularExpression:
			re, err := compileAnchored(m.Path.Value)
			if err != nil {
				return nil, fmt.Errorf("path regex %q: %w", m.Path.Value, err)
			}
			cm.pathClass = pathRegex
			cm.pathRegex = re
		default:
			return nil, fmt.Errorf("unsupported path match type %q", m.Path.Type)
		}
	}

	for _, h := range m.Headers {
		vm, err := newValueMatcher(http.CanonicalHeaderKey(h.Name), h)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", h.Name, err)
		}
		cm.headers = append(cm.headers, vm)
	}
	for _, q := range m.QueryParams {
		vm, err := newValueMatcher(q.Name, q)
		if err != nil {
			return nil, fmt.Errorf("query param %q: %w", q.Name, err)
		}
		cm.queries = append(cm.queries, vm)
	}
	return cm, nil
}

func newValueMatcher(name string, v model.ValueMatch) (valueMatcher, error) {
	vm := valueMatcher{name: name}
	if v.Type == model.ValueRegularExpression {
		re, err := compileAnchored(v.Value)
		if err != nil {
			return vm, err
		}
		vm.regex = re
		return vm, nil
	}
	vm.exact = v.Value
	return vm, nil
}

// compileAnchored compiles expr for full matching. Compiled patterns are
// shared between tables; *regexp.Regexp is safe for concurrent use.
func compileAnchored(expr string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, err
	}
	regexCache.Add(expr, re)
	return re, nil
}

// Source returns the declared match.
func (cm *Matcher) Source() model.Match {
	return cm.source
}

// Matches evaluates all constraints against the request. Missing headers
// or query parameters never match.
func (cm *Matcher) Matches(r *RequestView) bool {
	if cm.method != "" && r.Method != cm.method {
		return false
	}
	if !cm.matchPath(r.Path) {
		return false
	}
	for _, hm := range cm.headers {
		v, ok := r.header(hm.name)
		if !ok || !hm.matches(v) {
			return false
		}
	}
	for _, qm := range cm.queries {
		vals, ok := r.Query[qm.name]
		if !ok || len(vals) == 0 || !qm.matches(vals[0]) {
			return false
		}
	}
	return true
}

// header returns the first value of the canonical header name. Host is
// served from the request authority.
func (r *RequestView) header(name string) (string, bool) {
	if name == "Host" {
		return r.Host, r.Host != ""
	}
	vals := r.Header[name]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (cm *Matcher) matchPath(p string) bool {
	switch cm.pathClass {
	case pathExact:
		return p == cm.path
	case pathPref:
		return pathHasPrefix(p, cm.path)
	case pathRegex:
		return cm.pathRegex.MatchString(p)
	}
	return true
}

// pathHasPrefix reports whether p equals prefix or continues it at a
// segment boundary. An empty prefix (from "/") matches every path.
func pathHasPrefix(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// MatchedPrefix returns the request path prefix this matcher consumed, for
// prefix substitution rewrites. Exact matches consume the whole path;
// matchers without a path constraint consume "/".
func (cm *Matcher) MatchedPrefix(p string) string {
	switch cm.pathClass {
	case pathExact:
		return p
	case pathPref:
		if cm.path == "" {
			return "/"
		}
		return cm.path
	}
	return "/"
}

// Specificity ranks matchers inside a host bucket.
type Specificity struct {
	PathClass   int
	PathLength  int
	Constraints int
	Method      bool
}

// Specificity returns the rank of the matcher.
func (cm *Matcher) Specificity() Specificity {
	s := Specificity{
		PathClass:   cm.pathClass,
		Constraints: len(cm.headers) + len(cm.queries),
		Method:      cm.method != "",
	}
	if cm.source.Path != nil {
		s.PathLength = len(cm.source.Path.Value)
	}
	return s
}

// Compare returns -1 when s ranks above o, 1 when below, 0 when tied.
func (s Specificity) Compare(o Specificity) int {
	switch {
	case s.PathClass != o.PathClass:
		return cmpDesc(s.PathClass, o.PathClass)
	case s.PathLength != o.PathLength:
		return cmpDesc(s.PathLength, o.PathLength)
	case s.Constraints != o.Constraints:
		return cmpDesc(s.Constraints, o.Constraints)
	case s.Method != o.Method:
		if s.Method {
			return -1
		}
		return 1
	}
	return 0
}

func cmpDesc(a, b int) int {
	if a > b {
		return -1
	}
	return 1
}
