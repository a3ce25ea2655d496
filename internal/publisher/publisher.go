package publisher

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/routing"
)

var (
	// ErrNotLeader is returned when a non-leader replica tries to publish.
	ErrNotLeader = errors.New("publisher: not the elected leader")
	// ErrStaleVersion is returned when a table does not advance the version.
	ErrStaleVersion = errors.New("publisher: table version does not advance")
)

// Elector reports whether this replica currently holds leadership.
type Elector interface {
	IsLeader() bool
}

// AlwaysLeader is the elector for single-replica deployments.
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader() bool { return true }

// Publisher owns the live routing table. Readers load it with a single
// atomic read and never observe a partially published table.
type Publisher struct {
	current atomic.Pointer[routing.Table]
	elector Elector
	metrics *metrics.Collector

	mu sync.Mutex
}

// New creates a publisher gated by elector. A nil elector always leads.
func New(elector Elector, m *metrics.Collector) *Publisher {
	if elector == nil {
		elector = AlwaysLeader{}
	}
	return &Publisher{elector: elector, metrics: m}
}

// Publish swaps t in as the live table. The swap is rejected when this
// replica is not the leader or when t does not advance the version.
func (p *Publisher) Publish(t *routing.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.elector.IsLeader() {
		return ErrNotLeader
	}
	if cur := p.current.Load(); cur != nil && t.Version <= cur.Version {
		return ErrStaleVersion
	}
	p.current.Store(t)
	if p.metrics != nil {
		p.metrics.RecordPublish(t.Version, len(t.Rules()))
	}
	return nil
}

// Load returns the live table, or nil before the first publish.
func (p *Publisher) Load() *routing.Table {
	return p.current.Load()
}

// Version returns the live table version, or 0 before the first publish.
func (p *Publisher) Version() uint64 {
	if t := p.current.Load(); t != nil {
		return t.Version
	}
	return 0
}

// Ready reports whether a table has been published.
func (p *Publisher) Ready() bool {
	return p.current.Load() != nil
}

// IsLeader reports the elector state.
func (p *Publisher) IsLeader() bool {
	return p.elector.IsLeader()
}
