package loadbalancer

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/model"
)

// Source yields uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// lockedSource serializes access to a non goroutine-safe source such as a
// seeded *rand.Rand.
type lockedSource struct {
	mu  sync.Mutex
	src Source
}

func (l *lockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// Selector picks a backend set with probability weight/Σweight, then one
// endpoint of that set uniformly at random. Both draws use the same source.
type Selector struct {
	src Source
}

// NewSelector creates a selector on the process-wide random source.
func NewSelector() *Selector {
	return &Selector{src: globalSource{}}
}

// NewSelectorWithSource creates a selector on src, for reproducible picks
// in tests. src does not need to be goroutine safe.
func NewSelectorWithSource(src Source) *Selector {
	return &Selector{src: &lockedSource{src: src}}
}

// Pick selects a backend set and an endpoint. Sets with weight 0 are never
// chosen. An empty or all-zero set, or a chosen set without endpoints,
// yields a BackendUnresolved error.
func (s *Selector) Pick(backends []model.BackendRef) (model.BackendRef, model.Endpoint, error) {
	total := 0
	for _, b := range backends {
		if w := b.EffectiveWeight(); w > 0 {
			total += int(w)
		}
	}
	if total <= 0 {
		return model.BackendRef{}, model.Endpoint{}, errors.ErrBackendUnresolved.WithDetails("no backend with positive weight")
	}

	roll := s.src.IntN(total)
	cumulative := 0
	chosen := -1
	for i, b := range backends {
		w := int(b.EffectiveWeight())
		if w <= 0 {
			continue
		}
		cumulative += w
		if roll < cumulative {
			chosen = i
			break
		}
	}
	b := backends[chosen]
	if len(b.Endpoints) == 0 {
		return b, model.Endpoint{}, errors.ErrBackendUnresolved.WithDetails(fmt.Sprintf("backend %q has no endpoints", b.Name))
	}
	ep := b.Endpoints[0]
	if len(b.Endpoints) > 1 {
		ep = b.Endpoints[s.src.IntN(len(b.Endpoints))]
	}
	return b, ep, nil
}
