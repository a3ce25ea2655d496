package compiler

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wudi/routeplane/internal/model"
)

// Resolver turns a backend's logical target into concrete endpoints.
// namespace is the namespace of the route declaring the backend.
type Resolver interface {
	Resolve(ctx context.Context, namespace string, ref model.BackendRef) ([]model.Endpoint, error)
}

// StaticResolver only accepts inline endpoints.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, namespace string, ref model.BackendRef) ([]model.Endpoint, error) {
	if len(ref.Endpoints) == 0 {
		return nil, fmt.Errorf("backend %s has no inline endpoints", ref.Target(namespace))
	}
	return ref.Endpoints, nil
}

// hostResolver abstracts DNS lookups for testability.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSResolver resolves backend names with A/AAAA lookups. Names without a
// dot are qualified as <name>.<namespace>.<domain> when a domain is set.
// The last good answer per host is served when a lookup fails.
type DNSResolver struct {
	domain   string
	timeout  time.Duration
	resolver hostResolver

	mu    sync.RWMutex
	cache map[string][]model.Endpoint
}

// DNSOptions configures a DNSResolver.
type DNSOptions struct {
	Domain     string
	Nameserver string
	Timeout    time.Duration
}

// NewDNSResolver creates a DNS backed resolver.
func NewDNSResolver(opts DNSOptions) *DNSResolver {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	r := net.DefaultResolver
	if opts.Nameserver != "" {
		ns := opts.Nameserver
		r = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, "udp", ns)
			},
		}
	}
	return &DNSResolver{
		domain:   strings.Trim(opts.Domain, "."),
		timeout:  timeout,
		resolver: r,
		cache:    make(map[string][]model.Endpoint),
	}
}

func (d *DNSResolver) Resolve(ctx context.Context, namespace string, ref model.BackendRef) ([]model.Endpoint, error) {
	if len(ref.Endpoints) > 0 {
		return ref.Endpoints, nil
	}
	host := d.hostname(namespace, ref)

	lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	addrs, err := d.resolver.LookupHost(lookupCtx, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.mu.RLock()
		cached, ok := d.cache[host]
		d.mu.RUnlock()
		if ok {
			return cached, nil
		}
		return nil, fmt.Errorf("dns lookup failed for %s: %w", host, err)
	}

	sort.Strings(addrs)
	eps := make([]model.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		eps = append(eps, model.Endpoint{Address: a})
	}
	d.mu.Lock()
	d.cache[host] = eps
	d.mu.Unlock()
	return eps, nil
}

func (d *DNSResolver) hostname(namespace string, ref model.BackendRef) string {
	if strings.Contains(ref.Name, ".") || d.domain == "" {
		return ref.Name
	}
	target := ref.Target(namespace)
	return fmt.Sprintf("%s.%s.%s", target.Name, target.Namespace, d.domain)
}
