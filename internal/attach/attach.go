package attach

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/model"
)

// Reasons reported with attachment decisions.
const (
	ReasonAccepted              = "Accepted"
	ReasonSelectorUnimplemented = "SelectorNotImplemented"
	ReasonNotAllowedByNamespace = "NotAllowedByNamespace"
	ReasonUnknownPolicy         = "UnknownAllowedRoutesPolicy"
	ReasonNoMatchingHostname    = "NoMatchingListenerHostname"
	ReasonNoMatchingParent      = "NoMatchingParent"
)

// Decision is the outcome of an attachment check.
type Decision struct {
	Allowed bool
	Reason  string
	// Warning is set when the decision took an unimplemented code path.
	Warning bool
}

// Record is one advisory entry describing an attachment decision.
type Record struct {
	Route    model.ObjectKey
	Gateway  model.ObjectKey
	Listener string
	Decision Decision
}

// Advisor consumes attachment advisory records.
type Advisor interface {
	Advise(Record)
}

// LogAdvisor writes records through zap: info when allowed, debug when
// rejected and warn on unimplemented paths.
type LogAdvisor struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewLogAdvisor creates an advisor. Either argument may be nil; a nil
// logger falls back to the global logger.
func NewLogAdvisor(logger *zap.Logger, m *metrics.Collector) *LogAdvisor {
	return &LogAdvisor{logger: logger, metrics: m}
}

func (a *LogAdvisor) Advise(r Record) {
	logger := a.logger
	if logger == nil {
		logger = logging.Global()
	}
	fields := []zap.Field{
		zap.String("route_id", r.Route.String()),
		zap.String("gateway_id", r.Gateway.String()),
		zap.String("listener", r.Listener),
		zap.Bool("allowed", r.Decision.Allowed),
		zap.String("reason", r.Decision.Reason),
	}
	switch {
	case r.Decision.Warning:
		logger.Warn("attachment allowed through unimplemented policy", fields...)
	case r.Decision.Allowed:
		logger.Info("attachment allowed", fields...)
	default:
		logger.Debug("attachment rejected", fields...)
	}
	if a.metrics != nil {
		a.metrics.RecordAttachment(r.Decision.Allowed, r.Decision.Reason)
	}
}

// Filter decides whether a route may attach to a gateway listener.
type Filter struct {
	advisor Advisor
}

// NewFilter creates a filter emitting records to advisor (may be nil).
func NewFilter(advisor Advisor) *Filter {
	return &Filter{advisor: advisor}
}

// Allowed applies the listener namespace policy, then the hostname overlap
// check, and reports the decision to the advisor.
func (f *Filter) Allowed(route *model.Route, gw *model.Gateway, l *model.Listener) Decision {
	d := namespaceDecision(route, gw, l)
	if d.Allowed && !HostnamesOverlap(l.Hostname, route.HostHeaders) {
		d = Decision{Reason: ReasonNoMatchingHostname}
	}
	f.advise(route.Key(), gw.Key(), l.Name, d)
	return d
}

// Reject reports a rejection decided outside Allowed, such as a parent ref
// naming a listener that does not exist.
func (f *Filter) Reject(route model.ObjectKey, gw model.ObjectKey, listener, reason string) Decision {
	d := Decision{Reason: reason}
	f.advise(route, gw, listener, d)
	return d
}

func (f *Filter) advise(route, gw model.ObjectKey, listener string, d Decision) {
	if f.advisor == nil {
		return
	}
	f.advisor.Advise(Record{Route: route, Gateway: gw, Listener: listener, Decision: d})
}

func namespaceDecision(route *model.Route, gw *model.Gateway, l *model.Listener) Decision {
	switch l.AllowedRoutes {
	case "", model.PolicySame:
		if route.Namespace == gw.Namespace {
			return Decision{Allowed: true, Reason: ReasonAccepted}
		}
		return Decision{Reason: ReasonNotAllowedByNamespace}
	case model.PolicyAll:
		return Decision{Allowed: true, Reason: ReasonAccepted}
	case model.PolicySelector:
		// Label selectors are not evaluated yet.
		return Decision{Allowed: true, Reason: ReasonSelectorUnimplemented, Warning: true}
	default:
		return Decision{Reason: ReasonUnknownPolicy}
	}
}

// HostnamesOverlap reports whether any route hostname overlaps the listener
// hostname. A listener without a hostname, or a route without hostnames,
// always overlaps.
func HostnamesOverlap(listener *model.HostnameMatch, route []model.HostnameMatch) bool {
	if listener == nil || len(route) == 0 {
		return true
	}
	for _, h := range route {
		if _, ok := Narrow(listener, h); ok {
			return true
		}
	}
	return false
}

// Narrow intersects a route hostname with a listener hostname and returns
// the more specific of the two when they overlap.
func Narrow(listener *model.HostnameMatch, route model.HostnameMatch) (model.HostnameMatch, bool) {
	route = route.Normalized()
	if listener == nil {
		return route, true
	}
	l := listener.Normalized()
	switch {
	case l.Type == model.HostnameExact && route.Type == model.HostnameExact:
		return route, l.Value == route.Value
	case l.Type == model.HostnameSuffix && route.Type == model.HostnameExact:
		return route, strings.HasSuffix(route.Value, l.Value)
	case l.Type == model.HostnameExact && route.Type == model.HostnameSuffix:
		return l, strings.HasSuffix(l.Value, route.Value)
	case l.Type == model.HostnameSuffix && route.Type == model.HostnameSuffix:
		if strings.HasSuffix(route.Value, l.Value) {
			return route, true
		}
		if strings.HasSuffix(l.Value, route.Value) {
			return l, true
		}
	}
	return model.HostnameMatch{}, false
}
