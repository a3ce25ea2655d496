package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wudi/routeplane/internal/model"
)

// Store holds a thread-safe in-memory snapshot of the declared Gateways and
// Routes. Resources are stored by identity and reference each other by key.
// Each mutation increments a generation counter used to skip redundant
// recompiles.
type Store struct {
	mu sync.RWMutex

	gateways map[model.ObjectKey]*model.Gateway
	routes   map[model.ObjectKey]*model.Route

	generation atomic.Int64
}

// Snapshot is a point-in-time, deterministically ordered copy of the store.
// Gateways and Routes are sorted by (namespace, name).
type Snapshot struct {
	Generation int64
	Gateways   []*model.Gateway
	Routes     []*model.Route
}

// Gateway looks up a gateway in the snapshot.
func (s *Snapshot) Gateway(key model.ObjectKey) (*model.Gateway, bool) {
	i := sort.Search(len(s.Gateways), func(i int) bool {
		return !lessKey(s.Gateways[i].Key(), key)
	})
	if i < len(s.Gateways) && s.Gateways[i].Key() == key {
		return s.Gateways[i], true
	}
	return nil, false
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		gateways: make(map[model.ObjectKey]*model.Gateway),
		routes:   make(map[model.ObjectKey]*model.Route),
	}
}

// Generation returns the current generation counter.
func (s *Store) Generation() int64 {
	return s.generation.Load()
}

// --- Gateways ---

func (s *Store) SetGateway(gw *model.Gateway) {
	s.mu.Lock()
	s.gateways[gw.Key()] = gw
	s.generation.Add(1)
	s.mu.Unlock()
}

func (s *Store) DeleteGateway(key model.ObjectKey) {
	s.mu.Lock()
	if _, ok := s.gateways[key]; ok {
		delete(s.gateways, key)
		s.generation.Add(1)
	}
	s.mu.Unlock()
}

func (s *Store) GetGateway(key model.ObjectKey) (*model.Gateway, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gw, ok := s.gateways[key]
	return gw, ok
}

func (s *Store) ListGateways() []*model.Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Gateway, 0, len(s.gateways))
	for _, v := range s.gateways {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

// --- Routes ---

func (s *Store) SetRoute(r *model.Route) {
	s.mu.Lock()
	s.routes[r.Key()] = r
	s.generation.Add(1)
	s.mu.Unlock()
}

func (s *Store) DeleteRoute(key model.ObjectKey) {
	s.mu.Lock()
	if _, ok := s.routes[key]; ok {
		delete(s.routes, key)
		s.generation.Add(1)
	}
	s.mu.Unlock()
}

func (s *Store) GetRoute(key model.ObjectKey) (*model.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[key]
	return r, ok
}

func (s *Store) ListRoutes() []*model.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Route, 0, len(s.routes))
	for _, v := range s.routes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

// Replace swaps the whole content of the store in one step. Used by sources
// that deliver full state (the manifest file) rather than per-object events.
func (s *Store) Replace(gateways []*model.Gateway, routes []*model.Route) {
	gws := make(map[model.ObjectKey]*model.Gateway, len(gateways))
	for _, gw := range gateways {
		gws[gw.Key()] = gw
	}
	rts := make(map[model.ObjectKey]*model.Route, len(routes))
	for _, r := range routes {
		rts[r.Key()] = r
	}
	s.mu.Lock()
	s.gateways = gws
	s.routes = rts
	s.generation.Add(1)
	s.mu.Unlock()
}

// Snapshot returns a consistent, sorted view of the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	snap := &Snapshot{
		Generation: s.generation.Load(),
		Gateways:   make([]*model.Gateway, 0, len(s.gateways)),
		Routes:     make([]*model.Route, 0, len(s.routes)),
	}
	for _, gw := range s.gateways {
		snap.Gateways = append(snap.Gateways, gw)
	}
	for _, r := range s.routes {
		snap.Routes = append(snap.Routes, r)
	}
	s.mu.RUnlock()

	sort.Slice(snap.Gateways, func(i, j int) bool { return lessKey(snap.Gateways[i].Key(), snap.Gateways[j].Key()) })
	sort.Slice(snap.Routes, func(i, j int) bool { return lessKey(snap.Routes[i].Key(), snap.Routes[j].Key()) })
	return snap
}

func lessKey(a, b model.ObjectKey) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	return a.Name < b.Name
}
