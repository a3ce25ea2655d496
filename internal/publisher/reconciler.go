package publisher

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/compiler"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/store"
)

// Compile results recorded by the reconciler.
const (
	ResultPublished = "published"
	ResultSkipped   = "skipped"
	ResultDiscarded = "discarded"
	ResultFailed    = "failed"
)

// DefaultDebounce is the window used to coalesce bursts of triggers.
const DefaultDebounce = 100 * time.Millisecond

// Source provides the resource snapshots to compile.
type Source interface {
	Generation() int64
	Snapshot() *store.Snapshot
}

// StatusWriter receives the errors of every published pass.
type StatusWriter interface {
	WriteStatus(ctx context.Context, res *compiler.Result) error
}

// StatusFunc adapts a function to StatusWriter.
type StatusFunc func(ctx context.Context, res *compiler.Result) error

func (f StatusFunc) WriteStatus(ctx context.Context, res *compiler.Result) error {
	return f(ctx, res)
}

// Reconciler recompiles the routing table when the store changes. Triggers
// arriving within the debounce window collapse into one compilation, and at
// most one compilation runs at a time.
type Reconciler struct {
	source    Source
	compiler  *compiler.Compiler
	publisher *Publisher
	status    StatusWriter
	metrics   *metrics.Collector
	logger    *zap.Logger

	debounce time.Duration
	maxWait  time.Duration

	trigger   chan struct{}
	compiling atomic.Bool
	// lastGen is the store generation of the last published table.
	lastGen atomic.Int64
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDebounce sets the coalescing window. Bursts are flushed no later than
// ten windows after the first trigger.
func WithDebounce(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.debounce = d }
}

// WithStatusWriter sets the status sink for published passes.
func WithStatusWriter(w StatusWriter) ReconcilerOption {
	return func(r *Reconciler) { r.status = w }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler compiling src with c into p.
func NewReconciler(src Source, c *compiler.Compiler, p *Publisher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		source:    src,
		compiler:  c,
		publisher: p,
		debounce:  DefaultDebounce,
		trigger:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = logging.Global()
	}
	r.maxWait = 10 * r.debounce
	r.lastGen.Store(-1)
	return r
}

// Trigger requests a recompilation. It never blocks; pending requests are
// merged.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
		}
		if !r.wait(ctx) {
			return nil
		}
		if err := r.RecomputeNow(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("routing table reconcile failed", zap.Error(err))
		}
	}
}

// wait absorbs triggers until the debounce window stays quiet or the
// maximum wait elapses. It returns false when ctx is done.
func (r *Reconciler) wait(ctx context.Context) bool {
	if r.debounce <= 0 {
		return true
	}
	quiet := time.NewTimer(r.debounce)
	defer quiet.Stop()
	deadline := time.NewTimer(r.maxWait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.trigger:
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(r.debounce)
		case <-quiet.C:
			return true
		case <-deadline.C:
			return true
		}
	}
}

// RecomputeNow compiles the current snapshot and publishes the result. A
// call made while another compilation is in flight is merged into a
// follow-up trigger. Passes for an unchanged generation are skipped, and
// results are discarded when ctx ends or leadership is lost before the
// swap.
func (r *Reconciler) RecomputeNow(ctx context.Context) error {
	if !r.compiling.CompareAndSwap(false, true) {
		r.Trigger()
		return nil
	}
	defer r.compiling.Store(false)

	if !r.publisher.IsLeader() {
		r.record(ResultSkipped, 0)
		r.logger.Debug("not leader, skipping compile")
		return nil
	}
	gen := r.source.Generation()
	if gen == r.lastGen.Load() && r.publisher.Ready() {
		r.record(ResultSkipped, 0)
		return nil
	}

	start := time.Now()
	snap := r.source.Snapshot()
	res, err := r.compiler.CompileSnapshot(ctx, snap, r.publisher.Version())
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			r.record(ResultDiscarded, elapsed)
			r.logger.Info("compile discarded", zap.Error(err))
			return nil
		}
		r.record(ResultFailed, elapsed)
		return err
	}

	if err := r.publisher.Publish(res.Table); err != nil {
		if errors.Is(err, ErrNotLeader) {
			r.record(ResultDiscarded, elapsed)
			r.logger.Info("leadership lost during compile, result discarded",
				zap.Uint64("version", res.Table.Version))
			return nil
		}
		r.record(ResultFailed, elapsed)
		return err
	}
	r.lastGen.Store(res.Generation)
	r.record(ResultPublished, elapsed)
	if r.metrics != nil {
		r.metrics.SetResourceErrors(compiler.CountByKind(res.Errors))
	}

	r.logger.Info("routing table published",
		zap.Uint64("version", res.Table.Version),
		zap.Uint64("hash", res.Table.Hash),
		zap.Int64("generation", res.Generation),
		zap.Int("rules", len(res.Table.Rules())),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", elapsed),
	)
	for _, e := range res.Errors {
		r.logger.Warn("resource error", zap.String("error", e.Error()))
	}

	if r.status != nil {
		if err := r.status.WriteStatus(ctx, res); err != nil {
			r.logger.Warn("status update failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) record(result string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordCompile(result, d)
	}
}
