package model

import (
	"net/http"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodDelete: true, http.MethodPatch: true,
	http.MethodOptions: true, http.MethodConnect: true, http.MethodTrace: true,
}

// ValidateGateway checks the structural validity of a gateway.
func ValidateGateway(gw *Gateway) field.ErrorList {
	var errs field.ErrorList
	if gw.Name == "" {
		errs = append(errs, field.Required(field.NewPath("name"), ""))
	}
	seen := make(map[string]bool, len(gw.Listeners))
	for i, l := range gw.Listeners {
		p := field.NewPath("listeners").Index(i)
		if l.Name == "" {
			errs = append(errs, field.Required(p.Child("name"), ""))
		} else if seen[l.Name] {
			errs = append(errs, field.Duplicate(p.Child("name"), l.Name))
		}
		seen[l.Name] = true
		if l.Port <= 0 || l.Port > 65535 {
			errs = append(errs, field.Invalid(p.Child("port"), l.Port, "must be between 1 and 65535"))
		}
		if l.Protocol != ProtocolHTTP && l.Protocol != ProtocolHTTPS {
			errs = append(errs, field.NotSupported(p.Child("protocol"), l.Protocol, []string{string(ProtocolHTTP), string(ProtocolHTTPS)}))
		}
		if l.Hostname != nil {
			errs = append(errs, validateHostname(p.Child("hostname"), *l.Hostname)...)
		}
	}
	return errs
}

// ValidateRoute checks the structural validity of a route. Regular
// expressions are checked when they are compiled.
func ValidateRoute(r *Route) field.ErrorList {
	var errs field.ErrorList
	if r.Name == "" {
		errs = append(errs, field.Required(field.NewPath("name"), ""))
	}
	if len(r.ParentRefs) == 0 {
		errs = append(errs, field.Required(field.NewPath("parent_refs"), "at least one parent is required"))
	}
	for i, ref := range r.ParentRefs {
		if ref.Name == "" {
			errs = append(errs, field.Required(field.NewPath("parent_refs").Index(i).Child("name"), ""))
		}
	}
	for i, h := range r.HostHeaders {
		errs = append(errs, validateHostname(field.NewPath("host_headers").Index(i), h)...)
	}
	for i := range r.Rules {
		errs = append(errs, validateRule(field.NewPath("rules").Index(i), &r.Rules[i])...)
	}
	return errs
}

func validateHostname(p *field.Path, h HostnameMatch) field.ErrorList {
	h = h.Normalized()
	switch h.Type {
	case HostnameExact:
		if h.Value == "" {
			return field.ErrorList{field.Required(p.Child("value"), "exact hostname must not be empty")}
		}
		if msgs := validation.IsDNS1123Subdomain(h.Value); len(msgs) > 0 {
			return field.ErrorList{field.Invalid(p.Child("value"), h.Value, strings.Join(msgs, "; "))}
		}
	case HostnameSuffix:
		v := strings.TrimPrefix(h.Value, ".")
		if v == "" {
			return nil
		}
		if msgs := validation.IsDNS1123Subdomain(v); len(msgs) > 0 {
			return field.ErrorList{field.Invalid(p.Child("value"), h.Value, strings.Join(msgs, "; "))}
		}
	default:
		return field.ErrorList{field.NotSupported(p.Child("type"), h.Type, []string{string(HostnameExact), string(HostnameSuffix)})}
	}
	return nil
}

func validateRule(p *field.Path, r *Rule) field.ErrorList {
	var errs field.ErrorList
	if r.UniqueID == "" {
		errs = append(errs, field.Required(p.Child("unique_id"), ""))
	}
	for i, m := range r.Matches {
		errs = append(errs, validateMatch(p.Child("matches").Index(i), m)...)
	}
	for i, b := range r.Backends {
		errs = append(errs, validateBackend(p.Child("backends").Index(i), b)...)
	}
	for i, f := range r.Filters {
		errs = append(errs, validateFilter(p.Child("filters").Index(i), f, r.Matches)...)
	}
	return errs
}

func validateMatch(p *field.Path, m Match) field.ErrorList {
	var errs field.ErrorList
	if m.Method != "" && !validMethods[m.Method] {
		errs = append(errs, field.Invalid(p.Child("method"), m.Method, "unknown HTTP method"))
	}
	if m.Path != nil {
		switch m.Path.Type {
		case PathExact, PathPrefix:
			if !strings.HasPrefix(m.Path.Value, "/") {
				errs = append(errs, field.Invalid(p.Child("path", "value"), m.Path.Value, "must start with '/'"))
			}
		case PathRegularExpression:
			if m.Path.Value == "" {
				errs = append(errs, field.Required(p.Child("path", "value"), ""))
			}
		default:
			errs = append(errs, field.NotSupported(p.Child("path", "type"), m.Path.Type,
				[]string{string(PathExact), string(PathPrefix), string(PathRegularExpression)}))
		}
	}
	for i, h := range m.Headers {
		hp := p.Child("headers").Index(i)
		if msgs := validation.IsHTTPHeaderName(h.Name); len(msgs) > 0 {
			errs = append(errs, field.Invalid(hp.Child("name"), h.Name, strings.Join(msgs, "; ")))
		}
		errs = append(errs, validateValueType(hp.Child("type"), h.Type)...)
	}
	for i, q := range m.QueryParams {
		qp := p.Child("query_params").Index(i)
		if q.Name == "" {
			errs = append(errs, field.Required(qp.Child("name"), ""))
		}
		errs = append(errs, validateValueType(qp.Child("type"), q.Type)...)
	}
	return errs
}

func validateValueType(p *field.Path, t ValueMatchType) field.ErrorList {
	switch t {
	case "", ValueExact, ValueRegularExpression:
		return nil
	}
	return field.ErrorList{field.NotSupported(p, t, []string{string(ValueExact), string(ValueRegularExpression)})}
}

func validateBackend(p *field.Path, b BackendRef) field.ErrorList {
	var errs field.ErrorList
	if b.Weight != nil && *b.Weight < 0 {
		errs = append(errs, field.Invalid(p.Child("weight"), *b.Weight, "must not be negative"))
	}
	if b.Port <= 0 || b.Port > 65535 {
		errs = append(errs, field.Invalid(p.Child("port"), b.Port, "must be between 1 and 65535"))
	}
	if b.Name == "" && len(b.Endpoints) == 0 {
		errs = append(errs, field.Required(p.Child("name"), "either a name or inline endpoints is required"))
	}
	for i, ep := range b.Endpoints {
		if ep.Address == "" {
			errs = append(errs, field.Required(p.Child("endpoints").Index(i).Child("address"), ""))
		}
		if ep.Port < 0 || ep.Port > 65535 {
			errs = append(errs, field.Invalid(p.Child("endpoints").Index(i).Child("port"), ep.Port, "must be between 1 and 65535"))
		}
	}
	return errs
}

func validateFilter(p *field.Path, f Filter, matches []Match) field.ErrorList {
	set := 0
	for _, present := range []bool{
		f.RequestHeaderModifier != nil, f.ResponseHeaderModifier != nil, f.RequestRedirect != nil,
		f.URLRewrite != nil, f.StaticResponse != nil, f.RequestMirror != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return field.ErrorList{field.Invalid(p, f.Type, "exactly one filter variant must be set")}
	}

	var errs field.ErrorList
	switch f.Type {
	case FilterRequestHeaderModifier:
		if f.RequestHeaderModifier == nil {
			return field.ErrorList{field.Required(p.Child("request_header_modifier"), "")}
		}
		errs = append(errs, validateHeaderModifier(p.Child("request_header_modifier"), f.RequestHeaderModifier)...)
	case FilterResponseHeaderModifier:
		if f.ResponseHeaderModifier == nil {
			return field.ErrorList{field.Required(p.Child("response_header_modifier"), "")}
		}
		errs = append(errs, validateHeaderModifier(p.Child("response_header_modifier"), f.ResponseHeaderModifier)...)
	case FilterRequestRedirect:
		rd := f.RequestRedirect
		if rd == nil {
			return field.ErrorList{field.Required(p.Child("request_redirect"), "")}
		}
		if rd.StatusCode != 0 && rd.StatusCode != http.StatusMovedPermanently && rd.StatusCode != http.StatusFound {
			errs = append(errs, field.NotSupported(p.Child("request_redirect", "status_code"), rd.StatusCode, []string{"301", "302"}))
		}
		if rd.Scheme != nil && *rd.Scheme != "http" && *rd.Scheme != "https" {
			errs = append(errs, field.NotSupported(p.Child("request_redirect", "scheme"), *rd.Scheme, []string{"http", "https"}))
		}
		errs = append(errs, validatePathModifier(p.Child("request_redirect", "path"), rd.Path, matches)...)
	case FilterURLRewrite:
		if f.URLRewrite == nil {
			return field.ErrorList{field.Required(p.Child("url_rewrite"), "")}
		}
		errs = append(errs, validatePathModifier(p.Child("url_rewrite", "path"), f.URLRewrite.Path, matches)...)
	case FilterStaticResponse:
		sr := f.StaticResponse
		if sr == nil {
			return field.ErrorList{field.Required(p.Child("static_response"), "")}
		}
		if sr.StatusCode < 100 || sr.StatusCode > 599 {
			errs = append(errs, field.Invalid(p.Child("static_response", "status_code"), sr.StatusCode, "must be a valid HTTP status"))
		}
	case FilterRequestMirror:
		if f.RequestMirror == nil {
			return field.ErrorList{field.Required(p.Child("request_mirror"), "")}
		}
		errs = append(errs, validateBackend(p.Child("request_mirror", "backend"), f.RequestMirror.Backend)...)
	default:
		errs = append(errs, field.NotSupported(p.Child("type"), f.Type, []string{
			string(FilterRequestHeaderModifier), string(FilterResponseHeaderModifier), string(FilterRequestRedirect),
			string(FilterURLRewrite), string(FilterStaticResponse), string(FilterRequestMirror),
		}))
	}
	return errs
}

func validateHeaderModifier(p *field.Path, m *HeaderModifier) field.ErrorList {
	var errs field.ErrorList
	check := func(fp *field.Path, name string) {
		if msgs := validation.IsHTTPHeaderName(name); len(msgs) > 0 {
			errs = append(errs, field.Invalid(fp, name, strings.Join(msgs, "; ")))
		}
	}
	for i, h := range m.Set {
		check(p.Child("set").Index(i).Child("name"), h.Name)
	}
	for i, h := range m.Add {
		check(p.Child("add").Index(i).Child("name"), h.Name)
	}
	for i, n := range m.Remove {
		check(p.Child("remove").Index(i), n)
	}
	return errs
}

// validatePathModifier rejects prefix substitution on rules whose matches
// are not prefix based, since there is no matched prefix to replace.
func validatePathModifier(p *field.Path, pm *PathModifier, matches []Match) field.ErrorList {
	if pm == nil {
		return nil
	}
	switch pm.Type {
	case ReplaceFullPath:
		if !strings.HasPrefix(pm.Value, "/") {
			return field.ErrorList{field.Invalid(p.Child("value"), pm.Value, "must start with '/'")}
		}
	case ReplacePrefixMatch:
		for i, m := range matches {
			if m.Path != nil && m.Path.Type == PathRegularExpression {
				return field.ErrorList{field.Invalid(field.NewPath("matches").Index(i).Child("path", "type"), m.Path.Type,
					"ReplacePrefixMatch requires Exact or Prefix path matches")}
			}
		}
		if !strings.HasPrefix(pm.Value, "/") {
			return field.ErrorList{field.Invalid(p.Child("value"), pm.Value, "must start with '/'")}
		}
	default:
		return field.ErrorList{field.NotSupported(p.Child("type"), pm.Type, []string{string(ReplaceFullPath), string(ReplacePrefixMatch)})}
	}
	return nil
}
