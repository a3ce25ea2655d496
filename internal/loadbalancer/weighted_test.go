package loadbalancer

import (
	stderrors "errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/model"
)

func weight(w int32) *int32 { return &w }

func checkoutBackends() []model.BackendRef {
	return []model.BackendRef{
		{Name: "stable", Weight: weight(90), Port: 443, Endpoints: []model.Endpoint{{Address: "10.20.1.1"}, {Address: "10.20.1.2"}}},
		{Name: "canary", Weight: weight(10), Port: 443, Endpoints: []model.Endpoint{{Address: "10.20.1.3"}}},
	}
}

func TestSelectorDistribution(t *testing.T) {
	s := NewSelectorWithSource(rand.New(rand.NewPCG(1, 2)))

	counts := map[string]int{}
	endpoints := map[string]int{}
	iterations := 20000
	for i := 0; i < iterations; i++ {
		b, ep, err := s.Pick(checkoutBackends())
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		counts[b.Name]++
		endpoints[ep.Address]++
	}

	const eps = 0.02
	stable := float64(counts["stable"]) / float64(iterations)
	canary := float64(counts["canary"]) / float64(iterations)
	if math.Abs(stable-0.9) > eps {
		t.Errorf("stable ratio %.3f not within %.2f of 0.90", stable, eps)
	}
	if math.Abs(canary-0.1) > eps {
		t.Errorf("canary ratio %.3f not within %.2f of 0.10", canary, eps)
	}

	// Endpoints inside the stable set are picked uniformly.
	a, b := float64(endpoints["10.20.1.1"]), float64(endpoints["10.20.1.2"])
	if math.Abs(a/(a+b)-0.5) > eps {
		t.Errorf("endpoint split %.3f not within %.2f of 0.50", a/(a+b), eps)
	}
}

func TestSelectorReproducible(t *testing.T) {
	run := func() []string {
		s := NewSelectorWithSource(rand.New(rand.NewPCG(42, 42)))
		var out []string
		for i := 0; i < 50; i++ {
			_, ep, err := s.Pick(checkoutBackends())
			if err != nil {
				t.Fatalf("Pick: %v", err)
			}
			out = append(out, ep.Address)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pick %d differs: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestSelectorZeroWeightNeverChosen(t *testing.T) {
	s := NewSelector()
	backends := []model.BackendRef{
		{Name: "live", Weight: weight(1), Port: 80, Endpoints: []model.Endpoint{{Address: "10.0.0.1"}}},
		{Name: "dark", Weight: weight(0), Port: 80, Endpoints: []model.Endpoint{{Address: "10.0.0.2"}}},
	}
	for i := 0; i < 1000; i++ {
		b, _, err := s.Pick(backends)
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if b.Name != "live" {
			t.Fatalf("zero-weight backend chosen")
		}
	}
}

func TestSelectorUnresolved(t *testing.T) {
	s := NewSelector()
	tests := []struct {
		name     string
		backends []model.BackendRef
	}{
		{"empty", nil},
		{"all zero", []model.BackendRef{
			{Name: "a", Weight: weight(0), Port: 80, Endpoints: []model.Endpoint{{Address: "10.0.0.1"}}},
		}},
		{"no endpoints", []model.BackendRef{{Name: "a", Port: 80}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Pick(tt.backends)
			if !stderrors.Is(err, errors.ErrBackendUnresolved) {
				t.Errorf("expected BackendUnresolved, got %v", err)
			}
		})
	}
}

func TestSelectorConcurrentInjectedSource(t *testing.T) {
	s := NewSelectorWithSource(rand.New(rand.NewPCG(7, 7)))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if _, _, err := s.Pick(checkoutBackends()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
