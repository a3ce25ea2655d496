package engine

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/filters"
	"github.com/wudi/routeplane/internal/loadbalancer"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/routing"
)

// HeaderRequestID carries the request id to backends and clients.
const HeaderRequestID = "X-Request-Id"

// State is a step of the per-request state machine.
type State int

const (
	Start State = iota
	HostResolved
	RuleMatched
	FiltersApplied
	BackendSelected
	Forwarded
	Rejected
)

var stateNames = [...]string{"Start", "HostResolved", "RuleMatched", "FiltersApplied", "BackendSelected", "Forwarded", "Rejected"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Outcomes recorded per decision.
const (
	OutcomeForward     = "forward"
	OutcomeStatic      = "static"
	OutcomeRedirect    = "redirect"
	OutcomeNoRoute     = "no_route"
	OutcomeUnresolved  = "unresolved"
	OutcomeFilterError = "filter_error"
	OutcomeCanceled    = "canceled"
)

// TableSource yields the live routing table.
type TableSource interface {
	Load() *routing.Table
}

// Mirrorer duplicates requests to mirror backends without blocking.
type Mirrorer interface {
	Mirror(r *http.Request, targets []model.BackendRef)
}

// Request is one inbound request with the listener it arrived on.
type Request struct {
	HTTP     *http.Request
	Listener routing.ListenerKey
	// Scheme is the listener scheme, "http" or "https".
	Scheme string
}

// Decision is the result of evaluating a request. Outbound is a copy of the
// inbound request carrying every filter mutation; the inbound request is
// never modified.
type Decision struct {
	RequestID    string
	TableVersion uint64
	State        State
	// Trace lists every state visited, Start first.
	Trace []State

	Host    model.HostnameMatch
	Rule    *routing.Rule
	Matcher *routing.Matcher

	Outcome     filters.Outcome
	StatusCode  int
	Body        string
	ContentType string
	Location    string

	Outbound        *http.Request
	Backend         model.BackendRef
	Endpoint        model.Endpoint
	ResponseHeaders []*model.HeaderModifier
	Mirrors         []model.BackendRef

	// Err is set when State is Rejected.
	Err *errors.RouteError
}

// RuleID returns the matched rule id, or "" when no rule matched.
func (d *Decision) RuleID() string {
	if d.Rule == nil {
		return ""
	}
	return d.Rule.ID
}

// Address returns the selected endpoint as host:port.
func (d *Decision) Address() string {
	return d.Endpoint.HostPort(d.Backend.Port)
}

func (d *Decision) enter(s State) {
	d.State = s
	d.Trace = append(d.Trace, s)
}

// Engine evaluates requests against the live routing table. It is safe for
// concurrent use and never writes shared state.
type Engine struct {
	tables   TableSource
	selector *loadbalancer.Selector
	mirrorer Mirrorer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelector sets the backend selector.
func WithSelector(s *loadbalancer.Selector) Option {
	return func(e *Engine) { e.selector = s }
}

// WithMirrorer sets the mirror dispatcher.
func WithMirrorer(m Mirrorer) Option {
	return func(e *Engine) { e.mirrorer = m }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine reading tables from src.
func New(src TableSource, opts ...Option) *Engine {
	e := &Engine{tables: src}
	for _, o := range opts {
		o(e)
	}
	if e.selector == nil {
		e.selector = loadbalancer.NewSelector()
	}
	if e.logger == nil {
		e.logger = logging.Global()
	}
	return e
}

// Evaluate runs the request through host resolution, rule matching, the
// filter chain and backend selection. The table is loaded once, so the
// whole evaluation sees a single version. A rejected request returns the
// decision together with its *errors.RouteError.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	r := req.HTTP
	d := &Decision{RequestID: requestID(r)}
	d.enter(Start)

	tbl := e.tables.Load()
	if tbl == nil {
		return e.reject(d, errors.ErrBackendUnresolved.WithDetails("no routing table published"), OutcomeUnresolved)
	}
	d.TableVersion = tbl.Version

	lb, ok := tbl.Listener(req.Listener)
	if !ok {
		return e.reject(d, errors.ErrNoMatchingRoute, OutcomeNoRoute)
	}
	hb, ok := lb.Host(routing.NormalizeHost(r.Host))
	if !ok {
		return e.reject(d, errors.ErrNoMatchingRoute, OutcomeNoRoute)
	}
	d.Host = hb.Host
	d.enter(HostResolved)

	rule, m, ok := hb.Match(routing.NewRequestView(r))
	if !ok {
		return e.reject(d, errors.ErrNoMatchingRoute, OutcomeNoRoute)
	}
	d.Rule, d.Matcher = rule, m
	d.enter(RuleMatched)

	if err := ctx.Err(); err != nil {
		return e.reject(d, errors.Wrap(errors.ErrCanceled, err), OutcomeCanceled)
	}

	out := r.Clone(ctx)
	out.Header.Set(HeaderRequestID, d.RequestID)
	res, err := filters.Apply(rule.Filters, filters.Input{
		Request: out,
		Scheme:  req.Scheme,
		Port:    req.Listener.Port,
		Matcher: m,
	})
	if err != nil {
		re, ok := errors.As(err)
		if !ok {
			re = errors.Wrap(errors.ErrFilter, err)
		}
		return e.reject(d, re, OutcomeFilterError)
	}
	d.Outbound = out
	d.Outcome = res.Outcome
	d.ResponseHeaders = res.ResponseHeaders
	d.enter(FiltersApplied)

	switch res.Outcome {
	case filters.Respond, filters.Redirect:
		d.StatusCode = res.StatusCode
		d.Body = res.Body
		d.ContentType = res.ContentType
		d.Location = res.Location
		e.record(res.Outcome.String())
		return d, nil
	}

	if err := ctx.Err(); err != nil {
		return e.reject(d, errors.Wrap(errors.ErrCanceled, err), OutcomeCanceled)
	}
	backend, ep, err := e.selector.Pick(rule.Backends)
	if err != nil {
		re, ok := errors.As(err)
		if !ok {
			re = errors.Wrap(errors.ErrBackendUnresolved, err)
		}
		return e.reject(d, re, OutcomeUnresolved)
	}
	d.Backend, d.Endpoint = backend, ep
	d.enter(BackendSelected)

	if len(res.Mirrors) > 0 && e.mirrorer != nil {
		d.Mirrors = res.Mirrors
		e.mirrorer.Mirror(out, res.Mirrors)
	}
	e.record(OutcomeForward)
	return d, nil
}

// MarkForwarded records the hand-off to the transport.
func (d *Decision) MarkForwarded() {
	d.enter(Forwarded)
}

func (e *Engine) reject(d *Decision, re *errors.RouteError, outcome string) (*Decision, error) {
	re = re.WithRequestID(d.RequestID)
	d.Err = re
	d.enter(Rejected)
	e.record(outcome)
	e.logger.Debug("request rejected",
		zap.String("request_id", d.RequestID),
		zap.String("kind", string(re.Kind)),
		zap.String("rule", d.RuleID()),
		zap.Uint64("table_version", d.TableVersion),
	)
	return d, re
}

func (e *Engine) record(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordDecision(outcome)
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
