package ingress

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"

	"github.com/wudi/routeplane/internal/model"
	"github.com/wudi/routeplane/internal/store"
)

// ServiceEndpoints is the resolved view of one Service: ready endpoints
// keyed by service port, or an external name.
type ServiceEndpoints struct {
	ExternalName string
	Ports        map[int32][]model.Endpoint
}

// Endpoints holds the resolved endpoints of every watched Service. Each
// effective change increments a generation counter so endpoint churn
// triggers recompilation even when no route changed.
type Endpoints struct {
	mu       sync.RWMutex
	services map[model.ObjectKey]*ServiceEndpoints

	generation atomic.Int64
}

// NewEndpoints creates an empty cache.
func NewEndpoints() *Endpoints {
	return &Endpoints{services: make(map[model.ObjectKey]*ServiceEndpoints)}
}

// Generation returns the current generation counter.
func (e *Endpoints) Generation() int64 {
	return e.generation.Load()
}

// Set stores the endpoints of a Service and reports whether they changed.
func (e *Endpoints) Set(key model.ObjectKey, se *ServiceEndpoints) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.services[key]; ok && reflect.DeepEqual(cur, se) {
		return false
	}
	e.services[key] = se
	e.generation.Add(1)
	return true
}

// Delete drops a Service and reports whether it was known.
func (e *Endpoints) Delete(key model.ObjectKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.services[key]; !ok {
		return false
	}
	delete(e.services, key)
	e.generation.Add(1)
	return true
}

// Get returns the endpoints of a Service.
func (e *Endpoints) Get(key model.ObjectKey) (*ServiceEndpoints, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	se, ok := e.services[key]
	return se, ok
}

// Resolve implements compiler.Resolver. A known Service port without ready
// endpoints resolves to an empty set.
func (e *Endpoints) Resolve(_ context.Context, namespace string, ref model.BackendRef) ([]model.Endpoint, error) {
	key := ref.Target(namespace)
	se, ok := e.Get(key)
	if !ok {
		return nil, fmt.Errorf("service %s not found", key)
	}
	if se.ExternalName != "" {
		return []model.Endpoint{{Address: se.ExternalName}}, nil
	}
	eps, ok := se.Ports[ref.Port]
	if !ok {
		return nil, fmt.Errorf("service %s has no port %d", key, ref.Port)
	}
	return append([]model.Endpoint(nil), eps...), nil
}

// BuildServiceEndpoints joins a Service with its EndpointSlices. Slice ports
// are matched to service ports by name; only ready IP endpoints are kept.
func BuildServiceEndpoints(svc *corev1.Service, slices []discoveryv1.EndpointSlice) *ServiceEndpoints {
	if svc.Spec.Type == corev1.ServiceTypeExternalName {
		return &ServiceEndpoints{ExternalName: svc.Spec.ExternalName}
	}
	out := &ServiceEndpoints{Ports: make(map[int32][]model.Endpoint, len(svc.Spec.Ports))}
	for _, sp := range svc.Spec.Ports {
		seen := make(map[string]bool)
		eps := []model.Endpoint{}
		for i := range slices {
			es := &slices[i]
			if es.AddressType == discoveryv1.AddressTypeFQDN {
				continue
			}
			target, ok := slicePort(es, sp.Name)
			if !ok {
				continue
			}
			for _, ep := range es.Endpoints {
				if ep.Conditions.Ready != nil && !*ep.Conditions.Ready {
					continue
				}
				for _, addr := range ep.Addresses {
					me := model.Endpoint{Address: addr, Port: target}
					if ep.NodeName != nil {
						me.Node = *ep.NodeName
					}
					if ep.Zone != nil {
						me.Zone = *ep.Zone
					}
					id := me.HostPort(0)
					if seen[id] {
						continue
					}
					seen[id] = true
					eps = append(eps, me)
				}
			}
		}
		sort.Slice(eps, func(i, j int) bool {
			if eps[i].Address != eps[j].Address {
				return eps[i].Address < eps[j].Address
			}
			return eps[i].Port < eps[j].Port
		})
		out.Ports[sp.Port] = eps
	}
	return out
}

func slicePort(es *discoveryv1.EndpointSlice, name string) (int32, bool) {
	for _, p := range es.Ports {
		pn := ""
		if p.Name != nil {
			pn = *p.Name
		}
		if pn == name && p.Port != nil {
			return *p.Port, true
		}
	}
	return 0, false
}

// Source combines the resource store with the endpoint cache so the
// reconciler sees a new generation when either changes.
type Source struct {
	resources *store.Store
	endpoints *Endpoints
}

// NewSource creates a combined source.
func NewSource(resources *store.Store, endpoints *Endpoints) *Source {
	return &Source{resources: resources, endpoints: endpoints}
}

// Generation returns the sum of both generation counters.
func (s *Source) Generation() int64 {
	return s.resources.Generation() + s.endpoints.Generation()
}

// Snapshot returns the store snapshot stamped with the combined generation.
func (s *Source) Snapshot() *store.Snapshot {
	gen := s.Generation()
	snap := s.resources.Snapshot()
	snap.Generation = gen
	return snap
}
