package ingress

import (
	"fmt"

	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/wudi/routeplane/internal/model"
)

// TranslateGateway converts a Gateway into the routing model. Listeners with
// a protocol other than HTTP or HTTPS are skipped with a warning.
func TranslateGateway(gw *gatewayv1.Gateway) (*model.Gateway, []string) {
	var warnings []string
	out := &model.Gateway{
		Namespace: gw.Namespace,
		Name:      gw.Name,
		ClassName: string(gw.Spec.GatewayClassName),
	}
	for _, l := range gw.Spec.Listeners {
		proto := model.Protocol(l.Protocol)
		if proto != model.ProtocolHTTP && proto != model.ProtocolHTTPS {
			warnings = append(warnings, fmt.Sprintf("gateway %s/%s listener %s: unsupported protocol %s", gw.Namespace, gw.Name, l.Name, l.Protocol))
			continue
		}
		ml := model.Listener{
			Name:          string(l.Name),
			Port:          int32(l.Port),
			Protocol:      proto,
			AllowedRoutes: model.PolicySame,
		}
		if l.Hostname != nil && *l.Hostname != "" {
			h := model.ParseHostname(string(*l.Hostname))
			ml.Hostname = &h
		}
		if l.AllowedRoutes != nil && l.AllowedRoutes.Namespaces != nil && l.AllowedRoutes.Namespaces.From != nil {
			ml.AllowedRoutes = model.AllowedRoutesPolicy(*l.AllowedRoutes.Namespaces.From)
		}
		out.Listeners = append(out.Listeners, ml)
	}
	return out, warnings
}

// TranslateHTTPRoute converts an HTTPRoute into the routing model. Rule ids
// are derived from the route identity and rule index. Unsupported filters
// and backend kinds are dropped with a warning.
func TranslateHTTPRoute(hr *gatewayv1.HTTPRoute) (*model.Route, []string) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf("httproute %s/%s: ", hr.Namespace, hr.Name)+fmt.Sprintf(format, args...))
	}

	out := &model.Route{Namespace: hr.Namespace, Name: hr.Name}
	for _, ref := range hr.Spec.ParentRefs {
		if !isGatewayRef(ref) {
			warn("parentRef %s ignored: not a Gateway", ref.Name)
			continue
		}
		pr := model.ParentRef{Name: string(ref.Name)}
		if ref.Namespace != nil {
			pr.Namespace = string(*ref.Namespace)
		}
		if ref.SectionName != nil {
			pr.SectionName = string(*ref.SectionName)
		}
		out.ParentRefs = append(out.ParentRefs, pr)
	}
	for _, h := range hr.Spec.Hostnames {
		out.HostHeaders = append(out.HostHeaders, model.ParseHostname(string(h)))
	}

	for i, rule := range hr.Spec.Rules {
		mr := model.Rule{UniqueID: RuleID(hr.Namespace, hr.Name, i)}
		for _, m := range rule.Matches {
			mr.Matches = append(mr.Matches, translateMatch(m))
		}
		for _, f := range rule.Filters {
			mf, err := translateFilter(f)
			if err != nil {
				warn("rule %d: %v", i, err)
				continue
			}
			mr.Filters = append(mr.Filters, mf)
		}
		for _, ref := range rule.BackendRefs {
			b, err := translateBackend(ref.BackendObjectReference)
			if err != nil {
				warn("rule %d: %v", i, err)
				continue
			}
			if ref.Weight != nil {
				w := *ref.Weight
				b.Weight = &w
			}
			mr.Backends = append(mr.Backends, b)
		}
		out.Rules = append(out.Rules, mr)
	}
	return out, warnings
}

// RuleID names the i-th rule of an HTTPRoute.
func RuleID(namespace, name string, i int) string {
	return fmt.Sprintf("%s/%s/rule-%d", namespace, name, i)
}

func translateMatch(m gatewayv1.HTTPRouteMatch) model.Match {
	var out model.Match
	if m.Method != nil {
		out.Method = string(*m.Method)
	}
	if m.Path != nil {
		pm := &model.PathMatch{Type: model.PathPrefix, Value: "/"}
		if m.Path.Type != nil {
			switch *m.Path.Type {
			case gatewayv1.PathMatchExact:
				pm.Type = model.PathExact
			case gatewayv1.PathMatchRegularExpression:
				pm.Type = model.PathRegularExpression
			default:
				pm.Type = model.PathPrefix
			}
		}
		if m.Path.Value != nil {
			pm.Value = *m.Path.Value
		}
		out.Path = pm
	}
	for _, h := range m.Headers {
		vm := model.ValueMatch{Name: string(h.Name), Type: model.ValueExact, Value: h.Value}
		if h.Type != nil && *h.Type == gatewayv1.HeaderMatchRegularExpression {
			vm.Type = model.ValueRegularExpression
		}
		out.Headers = append(out.Headers, vm)
	}
	for _, q := range m.QueryParams {
		vm := model.ValueMatch{Name: string(q.Name), Type: model.ValueExact, Value: q.Value}
		if q.Type != nil && *q.Type == gatewayv1.QueryParamMatchRegularExpression {
			vm.Type = model.ValueRegularExpression
		}
		out.QueryParams = append(out.QueryParams, vm)
	}
	return out
}

func translateFilter(f gatewayv1.HTTPRouteFilter) (model.Filter, error) {
	switch f.Type {
	case gatewayv1.HTTPRouteFilterRequestHeaderModifier:
		if f.RequestHeaderModifier == nil {
			break
		}
		return model.Filter{
			Type:                  model.FilterRequestHeaderModifier,
			RequestHeaderModifier: translateHeaderFilter(f.RequestHeaderModifier),
		}, nil
	case gatewayv1.HTTPRouteFilterResponseHeaderModifier:
		if f.ResponseHeaderModifier == nil {
			break
		}
		return model.Filter{
			Type:                   model.FilterResponseHeaderModifier,
			ResponseHeaderModifier: translateHeaderFilter(f.ResponseHeaderModifier),
		}, nil
	case gatewayv1.HTTPRouteFilterRequestRedirect:
		rr := f.RequestRedirect
		if rr == nil {
			break
		}
		red := &model.Redirect{Path: translatePathModifier(rr.Path)}
		if rr.Scheme != nil {
			scheme := *rr.Scheme
			red.Scheme = &scheme
		}
		if rr.Hostname != nil {
			h := string(*rr.Hostname)
			red.Hostname = &h
		}
		if rr.Port != nil {
			p := int32(*rr.Port)
			red.Port = &p
		}
		if rr.StatusCode != nil {
			red.StatusCode = *rr.StatusCode
		}
		return model.Filter{Type: model.FilterRequestRedirect, RequestRedirect: red}, nil
	case gatewayv1.HTTPRouteFilterURLRewrite:
		rw := f.URLRewrite
		if rw == nil {
			break
		}
		out := &model.URLRewrite{Path: translatePathModifier(rw.Path)}
		if rw.Hostname != nil {
			h := string(*rw.Hostname)
			out.Hostname = &h
		}
		return model.Filter{Type: model.FilterURLRewrite, URLRewrite: out}, nil
	case gatewayv1.HTTPRouteFilterRequestMirror:
		if f.RequestMirror == nil {
			break
		}
		b, err := translateBackend(f.RequestMirror.BackendRef)
		if err != nil {
			return model.Filter{}, fmt.Errorf("mirror: %w", err)
		}
		return model.Filter{Type: model.FilterRequestMirror, RequestMirror: &model.Mirror{Backend: b}}, nil
	default:
		return model.Filter{}, fmt.Errorf("unsupported filter type %s", f.Type)
	}
	return model.Filter{}, fmt.Errorf("filter %s has no configuration", f.Type)
}

func translateHeaderFilter(h *gatewayv1.HTTPHeaderFilter) *model.HeaderModifier {
	out := &model.HeaderModifier{Remove: append([]string(nil), h.Remove...)}
	for _, s := range h.Set {
		out.Set = append(out.Set, model.Header{Name: string(s.Name), Value: s.Value})
	}
	for _, a := range h.Add {
		out.Add = append(out.Add, model.Header{Name: string(a.Name), Value: a.Value})
	}
	return out
}

func translatePathModifier(p *gatewayv1.HTTPPathModifier) *model.PathModifier {
	if p == nil {
		return nil
	}
	switch p.Type {
	case gatewayv1.FullPathHTTPPathModifier:
		if p.ReplaceFullPath != nil {
			return &model.PathModifier{Type: model.ReplaceFullPath, Value: *p.ReplaceFullPath}
		}
	case gatewayv1.PrefixMatchHTTPPathModifier:
		if p.ReplacePrefixMatch != nil {
			return &model.PathModifier{Type: model.ReplacePrefixMatch, Value: *p.ReplacePrefixMatch}
		}
	}
	return nil
}

// translateBackend accepts core Service references only.
func translateBackend(ref gatewayv1.BackendObjectReference) (model.BackendRef, error) {
	if ref.Group != nil && *ref.Group != "" {
		return model.BackendRef{}, fmt.Errorf("unsupported backend group %s", *ref.Group)
	}
	if ref.Kind != nil && *ref.Kind != "Service" {
		return model.BackendRef{}, fmt.Errorf("unsupported backend kind %s", *ref.Kind)
	}
	b := model.BackendRef{Name: string(ref.Name)}
	if ref.Namespace != nil {
		b.Namespace = string(*ref.Namespace)
	}
	if ref.Port != nil {
		b.Port = int32(*ref.Port)
	}
	return b, nil
}

func isGatewayRef(ref gatewayv1.ParentReference) bool {
	if ref.Group != nil && *ref.Group != "" && string(*ref.Group) != gatewayv1.GroupName {
		return false
	}
	return ref.Kind == nil || *ref.Kind == "Gateway"
}
