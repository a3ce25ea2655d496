package filters

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/routing"
)

// Outcome tells the engine what to do after the chain ran.
type Outcome int

const (
	// Continue forwards the (possibly mutated) request to a backend.
	Continue Outcome = iota
	// Respond writes a static response.
	Respond
	// Redirect writes a 3xx with Location.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Respond:
		return "static"
	case Redirect:
		return "redirect"
	}
	return "forward"
}

// Input is the state the chain operates on. Request is the outbound copy
// and is mutated in place.
type Input struct {
	Request *http.Request
	// Scheme and Port describe the listener the request arrived on.
	Scheme  string
	Port    int32
	Matcher *routing.Matcher
}

// Result is the outcome of Apply.
type Result struct {
	Outcome     Outcome
	StatusCode  int
	Body        string
	ContentType string
	Location    string
	// ResponseHeaders are applied once the upstream response arrives.
	ResponseHeaders []*model.HeaderModifier
	// Mirrors are dispatched asynchronously by the caller.
	Mirrors []model.BackendRef
}

// Apply runs filters in fixed precedence regardless of declaration order:
// StaticResponse, RequestRedirect, URLRewrite, RequestHeaderModifier,
// RequestMirror. The first two are terminal.
func Apply(fs []model.Filter, in Input) (*Result, error) {
	res := &Result{Outcome: Continue}
	for i := range fs {
		if fs[i].Type == model.FilterResponseHeaderModifier && fs[i].ResponseHeaderModifier != nil {
			res.ResponseHeaders = append(res.ResponseHeaders, fs[i].ResponseHeaderModifier)
		}
	}

	if f := first(fs, model.FilterStaticResponse); f != nil && f.StaticResponse != nil {
		sr := f.StaticResponse
		res.Outcome = Respond
		res.StatusCode = sr.StatusCode
		res.Body = sr.Body
		res.ContentType = sr.ContentType
		return res, nil
	}

	if f := first(fs, model.FilterRequestRedirect); f != nil && f.RequestRedirect != nil {
		loc, err := redirectLocation(f.RequestRedirect, in)
		if err != nil {
			return nil, errors.Wrap(errors.ErrFilter, err).WithDetails("cannot build redirect location")
		}
		res.Outcome = Redirect
		res.StatusCode = f.RequestRedirect.StatusCode
		if res.StatusCode == 0 {
			res.StatusCode = http.StatusFound
		}
		res.Location = loc
		return res, nil
	}

	if f := first(fs, model.FilterURLRewrite); f != nil && f.URLRewrite != nil {
		rw := f.URLRewrite
		if rw.Hostname != nil {
			in.Request.Host = *rw.Hostname
		}
		if rw.Path != nil {
			rewriteRequestPath(in.Request.URL, rewritePath(rw.Path, in.Request.URL.Path, in.Matcher))
		}
	}

	for i := range fs {
		if fs[i].Type == model.FilterRequestHeaderModifier && fs[i].RequestHeaderModifier != nil {
			ApplyRequestHeaders(in.Request, fs[i].RequestHeaderModifier)
		}
	}

	for i := range fs {
		if fs[i].Type == model.FilterRequestMirror && fs[i].RequestMirror != nil {
			res.Mirrors = append(res.Mirrors, fs[i].RequestMirror.Backend)
		}
	}
	return res, nil
}

func first(fs []model.Filter, t model.FilterType) *model.Filter {
	for i := range fs {
		if fs[i].Type == t {
			return &fs[i]
		}
	}
	return nil
}

// ApplyRequestHeaders edits the outbound request headers. A Host entry
// changes the request authority.
func ApplyRequestHeaders(r *http.Request, mod *model.HeaderModifier) {
	for _, h := range mod.Set {
		if http.CanonicalHeaderKey(h.Name) == "Host" {
			r.Host = h.Value
			continue
		}
		r.Header.Set(h.Name, h.Value)
	}
	for _, h := range mod.Add {
		r.Header.Add(h.Name, h.Value)
	}
	for _, name := range mod.Remove {
		r.Header.Del(name)
	}
}

// ApplyResponseHeaders edits upstream response headers.
func ApplyResponseHeaders(h http.Header, mod *model.HeaderModifier) {
	for _, kv := range mod.Set {
		h.Set(kv.Name, kv.Value)
	}
	for _, kv := range mod.Add {
		h.Add(kv.Name, kv.Value)
	}
	for _, name := range mod.Remove {
		h.Del(name)
	}
}

func rewritePath(pm *model.PathModifier, path string, m *routing.Matcher) string {
	switch pm.Type {
	case model.ReplaceFullPath:
		return pm.Value
	case model.ReplacePrefixMatch:
		prefix := "/"
		if m != nil {
			prefix = m.MatchedPrefix(path)
		}
		return replacePrefix(path, prefix, pm.Value)
	}
	return path
}

// replacePrefix substitutes prefix in path with repl, keeping exactly one
// slash at the join.
func replacePrefix(path, prefix, repl string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	suffix := strings.TrimPrefix(path, prefix)
	if suffix == "" {
		if repl == "" {
			return "/"
		}
		return repl
	}
	if suffix[0] != '/' {
		suffix = "/" + suffix
	}
	out := strings.TrimSuffix(repl, "/") + suffix
	if out == "" {
		return "/"
	}
	return out
}

func rewriteRequestPath(u *url.URL, p string) {
	u.Path = p
	u.RawPath = ""
}

// redirectLocation builds the Location header from the redirect overrides,
// falling back to the request values. An explicit port wins; a scheme
// override without a port drops the port; well-known ports are omitted.
func redirectLocation(rd *model.Redirect, in Input) (string, error) {
	r := in.Request

	scheme := in.Scheme
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host, reqPort := splitHostPort(r.Host)
	port := reqPort
	if port == 0 {
		port = int(in.Port)
	}

	if rd.Scheme != nil {
		scheme = *rd.Scheme
		port = 0
	}
	if rd.Hostname != nil {
		host = *rd.Hostname
	}
	if rd.Port != nil {
		port = int(*rd.Port)
	}
	if host == "" {
		return "", fmt.Errorf("request has no host")
	}

	authority := host
	if strings.Contains(host, ":") {
		authority = "[" + host + "]"
	}
	if port != 0 && !wellKnownPort(scheme, port) {
		authority = net.JoinHostPort(host, strconv.Itoa(port))
	}

	path := r.URL.Path
	if rd.Path != nil {
		path = rewritePath(rd.Path, path, in.Matcher)
	}

	u := &url.URL{Scheme: scheme, Host: authority, Path: path, RawQuery: r.URL.RawQuery}
	loc := u.String()
	if _, err := url.Parse(loc); err != nil {
		return "", err
	}
	return loc, nil
}

func splitHostPort(hostport string) (string, int) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.Trim(hostport, "[]"), 0
	}
	port, _ := strconv.Atoi(p)
	return h, port
}

func wellKnownPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}
