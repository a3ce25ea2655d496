package compiler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/attach"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/routing"
	"github.com/wudi/routeplane/internal/store"
)

// Result is the output of one compilation pass.
type Result struct {
	Table *routing.Table
	// Errors holds every resource error of the pass, sorted by resource.
	Errors []ResourceError
	// Generation is the store generation the pass was computed from.
	Generation int64
	// Routes lists the routes that contributed at least one rule.
	Routes []model.ObjectKey
}

// ErrorsByResource groups the pass errors by resource identity.
func (r *Result) ErrorsByResource() map[ResourceRef][]ResourceError {
	return GroupErrors(r.Errors)
}

// Compiler turns admitted resources into an immutable routing table. It
// holds no state between passes: the same input always produces the same
// table apart from the version and timestamp.
type Compiler struct {
	resolver Resolver
	filter   *attach.Filter
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithResolver sets the endpoint resolver. Defaults to StaticResolver.
func WithResolver(r Resolver) Option {
	return func(c *Compiler) { c.resolver = r }
}

// WithFilter sets the attachment filter used by CompileSnapshot.
func WithFilter(f *attach.Filter) Option {
	return func(c *Compiler) { c.filter = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		resolver: StaticResolver{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.filter == nil {
		c.filter = attach.NewFilter(nil)
	}
	if c.logger == nil {
		c.logger = logging.Global()
	}
	return c
}

// CompileSnapshot admits the snapshot through the attachment filter and
// compiles the result. Attachment rejections are merged into the result
// errors.
func (c *Compiler) CompileSnapshot(ctx context.Context, snap *store.Snapshot, prevVersion uint64) (*Result, error) {
	admitted, rejected := Admit(snap, c.filter)
	res, err := c.Compile(ctx, admitted, prevVersion)
	if err != nil {
		return nil, err
	}
	res.Generation = snap.Generation
	res.Errors = append(res.Errors, rejected...)
	sortErrors(res.Errors)
	return res, nil
}

// compiledRoute is a validated route with its registered rules.
type compiledRoute struct {
	route *model.Route
	rules []*routing.Rule
}

// Compile builds a table from admitted attachments. Malformed routes and
// duplicate rule ids are excluded and reported; the returned error is
// non-nil only when ctx is done.
func (c *Compiler) Compile(ctx context.Context, admitted []Attachment, prevVersion uint64) (*Result, error) {
	res := &Result{}
	b := routing.NewBuilder()

	routes := distinctRoutes(admitted)
	compiled := make(map[model.ObjectKey]*compiledRoute, len(routes))
	owners := make(map[string]model.ObjectKey)

	for _, r := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matchers, rerrs := c.validateRoute(r)
		if len(rerrs) > 0 {
			res.Errors = append(res.Errors, rerrs...)
			continue
		}

		cr := &compiledRoute{route: r}
		for i := range r.Rules {
			rule := &r.Rules[i]
			if owner, dup := owners[rule.UniqueID]; dup {
				res.Errors = append(res.Errors, ResourceError{
					Kind:     DuplicateRuleID,
					Resource: KindRoute,
					Key:      r.Key(),
					RuleID:   rule.UniqueID,
					Message:  fmt.Sprintf("unique_id already used by route %s", owner),
				})
				continue
			}
			owners[rule.UniqueID] = r.Key()

			backends, err := c.resolveBackends(ctx, r, rule.Backends, res)
			if err != nil {
				return nil, err
			}
			filters, err := c.resolveMirrors(ctx, r, rule, res)
			if err != nil {
				return nil, err
			}
			cr.rules = append(cr.rules, b.NewRule(rule.UniqueID, r.Key(), i, matchers[i], filters, backends))
		}
		compiled[r.Key()] = cr
		if len(cr.rules) > 0 {
			res.Routes = append(res.Routes, r.Key())
		}
	}

	for _, at := range admitted {
		key := routing.ListenerKey{Port: at.Listener.Port, Protocol: at.Listener.Protocol}
		b.AddListener(key, at.Gateway.Namespace+"/"+at.Gateway.Name+"/"+at.Listener.Name, at.Listener.Hostname)
		for _, r := range at.Routes {
			cr, ok := compiled[r.Key()]
			if !ok {
				continue
			}
			for _, host := range placementHosts(at.Listener, r) {
				for _, rule := range cr.rules {
					b.Place(key, host, rule)
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Table = b.Build(prevVersion+1, c.now())
	sortErrors(res.Errors)

	c.logger.Debug("routing table compiled",
		zap.Uint64("version", res.Table.Version),
		zap.Int("rules", len(res.Table.Rules())),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// distinctRoutes returns every admitted route once, sorted by identity so
// declaration order does not depend on attachment order.
func distinctRoutes(admitted []Attachment) []*model.Route {
	seen := make(map[model.ObjectKey]bool)
	var out []*model.Route
	for _, at := range admitted {
		for _, r := range at.Routes {
			if !seen[r.Key()] {
				seen[r.Key()] = true
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})
	return out
}

// validateRoute checks the route and compiles every match. Any failure
// excludes the whole route.
func (c *Compiler) validateRoute(r *model.Route) ([][]*routing.Matcher, []ResourceError) {
	if fe := model.ValidateRoute(r); len(fe) > 0 {
		return nil, []ResourceError{{
			Kind:     ValidationError,
			Resource: KindRoute,
			Key:      r.Key(),
			Message:  fe.ToAggregate().Error(),
		}}
	}
	out := make([][]*routing.Matcher, len(r.Rules))
	for i := range r.Rules {
		for j, m := range r.Rules[i].Matches {
			cm, err := routing.NewMatcher(m)
			if err != nil {
				return nil, []ResourceError{{
					Kind:     ValidationError,
					Resource: KindRoute,
					Key:      r.Key(),
					RuleID:   r.Rules[i].UniqueID,
					Message:  fmt.Sprintf("rules[%d].matches[%d]: %v", i, j, err),
				}}
			}
			out[i] = append(out[i], cm)
		}
	}
	return out, nil
}

// resolveBackends snapshots the endpoints of every backend. A failed
// resolution is reported and leaves the backend without endpoints but with
// its declared weight, so its share of traffic answers BackendUnresolved.
func (c *Compiler) resolveBackends(ctx context.Context, r *model.Route, refs []model.BackendRef, res *Result) ([]model.BackendRef, error) {
	out := make([]model.BackendRef, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resolved, err := c.resolveOne(ctx, r, ref, res)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func (c *Compiler) resolveOne(ctx context.Context, r *model.Route, ref model.BackendRef, res *Result) (model.BackendRef, error) {
	if len(ref.Endpoints) > 0 {
		ref.Endpoints = append([]model.Endpoint(nil), ref.Endpoints...)
		return ref, nil
	}
	eps, err := c.resolver.Resolve(ctx, r.Namespace, ref)
	if err != nil {
		if ctx.Err() != nil {
			return ref, ctx.Err()
		}
		res.Errors = append(res.Errors, ResourceError{
			Kind:     UnresolvedBackend,
			Resource: KindRoute,
			Key:      r.Key(),
			Message:  err.Error(),
		})
		c.logger.Warn("backend resolution failed",
			zap.String("route", r.Key().String()),
			zap.String("backend", ref.Target(r.Namespace).String()),
			zap.Error(err),
		)
		return ref, nil
	}
	ref.Endpoints = eps
	return ref, nil
}

// resolveMirrors copies the rule filters, resolving mirror backends.
func (c *Compiler) resolveMirrors(ctx context.Context, r *model.Route, rule *model.Rule, res *Result) ([]model.Filter, error) {
	if len(rule.Filters) == 0 {
		return nil, nil
	}
	out := make([]model.Filter, len(rule.Filters))
	copy(out, rule.Filters)
	for i := range out {
		if out[i].Type != model.FilterRequestMirror || out[i].RequestMirror == nil {
			continue
		}
		resolved, err := c.resolveOne(ctx, r, out[i].RequestMirror.Backend, res)
		if err != nil {
			return nil, err
		}
		out[i].RequestMirror = &model.Mirror{Backend: resolved}
	}
	return out, nil
}

// placementHosts returns the host buckets a route lands in on a listener:
// each route hostname narrowed by the listener hostname, the listener
// hostname when the route declares none, or the catch-all bucket.
func placementHosts(l *model.Listener, r *model.Route) []model.HostnameMatch {
	if len(r.HostHeaders) == 0 {
		if l.Hostname != nil {
			return []model.HostnameMatch{l.Hostname.Normalized()}
		}
		return []model.HostnameMatch{model.SuffixHost("")}
	}
	var out []model.HostnameMatch
	seen := make(map[model.HostnameMatch]bool)
	for _, h := range r.HostHeaders {
		n, ok := attach.Narrow(l.Hostname, h)
		if ok && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
