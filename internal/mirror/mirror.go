package mirror

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wudi/routeplane/internal/loadbalancer"
	"github.com/wudi/routeplane/internal/logging"
	"github.com/wudi/routeplane/internal/metrics"
	"github.com/wudi/routeplane/internal/model"
)

// Results recorded per mirrored request.
const (
	ResultSent       = "sent"
	ResultDropped    = "dropped"
	ResultError      = "error"
	ResultUnresolved = "unresolved"
	ResultSkipped    = "skipped"
)

// HeaderMirroredFrom marks mirrored requests with the original authority.
const HeaderMirroredFrom = "X-Mirrored-From"

// Options configures a Dispatcher.
type Options struct {
	// Timeout bounds each mirrored request independently of the primary.
	Timeout time.Duration
	// Rate and Burst bound mirrored requests per second. Rate <= 0 disables
	// the bound.
	Rate  float64
	Burst int
	// MaxBodyBytes caps the body buffered for mirroring. Larger requests are
	// forwarded normally but not mirrored.
	MaxBodyBytes int64
}

// DefaultOptions returns the dispatcher defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Picker selects an endpoint for a backend set.
type Picker interface {
	Pick(backends []model.BackendRef) (model.BackendRef, model.Endpoint, error)
}

// Dispatcher duplicates requests to mirror backends. Responses are drained
// and discarded; failures never reach the primary request.
type Dispatcher struct {
	client  *http.Client
	picker  Picker
	limiter *rate.Limiter
	opts    Options
	metrics *metrics.Collector
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New creates a dispatcher. A nil picker uses a default selector.
func New(opts Options, picker Picker, m *metrics.Collector) *Dispatcher {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if picker == nil {
		picker = loadbalancer.NewSelector()
	}
	d := &Dispatcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		picker:  picker,
		opts:    opts,
		metrics: m,
		logger:  logging.Global(),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return d
}

// BufferRequestBody reads up to limit bytes of the body and restores it on
// r. ok is false when the body is larger than limit or reading fails; r.Body
// then still yields every byte of the original stream, read or not.
func BufferRequestBody(r *http.Request, limit int64) (body []byte, ok bool, err error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}
	if r.ContentLength > limit {
		return nil, false, nil
	}
	orig := r.Body
	buf, err := io.ReadAll(io.LimitReader(orig, limit+1))
	if err != nil || int64(len(buf)) > limit {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), orig), orig}
		return nil, false, err
	}
	orig.Close()
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, true, nil
}

// Mirror sends a copy of r to each target without waiting for the result.
// r must be the outbound request after request filters ran; its body is
// buffered and restored.
func (d *Dispatcher) Mirror(r *http.Request, targets []model.BackendRef) {
	if len(targets) == 0 {
		return
	}
	body, ok, err := BufferRequestBody(r, d.opts.MaxBodyBytes)
	if err != nil || !ok {
		for range targets {
			d.record(ResultSkipped)
		}
		return
	}
	for _, t := range targets {
		if d.limiter != nil && !d.limiter.Allow() {
			d.record(ResultDropped)
			continue
		}
		_, ep, err := d.picker.Pick([]model.BackendRef{t})
		if err != nil {
			d.record(ResultUnresolved)
			continue
		}
		req, err := d.newRequest(r, body, ep.HostPort(t.Port))
		if err != nil {
			d.record(ResultError)
			continue
		}
		d.wg.Add(1)
		go d.send(req)
	}
}

// newRequest builds the mirrored request on a context detached from the
// primary so client disconnects do not cancel it.
func (d *Dispatcher) newRequest(orig *http.Request, body []byte, hostport string) (*http.Request, error) {
	u := *orig.URL
	u.Scheme = "http"
	u.Host = hostport
	u.User = nil

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), orig.Method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	req.Header = orig.Header.Clone()
	req.Host = orig.Host
	req.Header.Set(HeaderMirroredFrom, orig.Host)
	return req, nil
}

func (d *Dispatcher) send(req *http.Request) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(req.Context(), d.opts.Timeout)
	defer cancel()

	resp, err := d.client.Do(req.WithContext(ctx))
	if err != nil {
		d.record(ResultError)
		d.logger.Debug("mirror request failed",
			zap.String("target", req.URL.Host),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	d.record(ResultSent)
}

// Wait blocks until in-flight mirrored requests finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.RecordMirror(result)
	}
}
