package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/engine"
	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/filters"
	"github.com/wudi/routeplane/internal/logging"
)

// Forwarder sends selected decisions to their endpoint and streams the
// upstream response back. It implements engine.Forwarder.
type Forwarder struct {
	transport     http.RoundTripper
	flushInterval time.Duration
	logger        *zap.Logger
}

// Config holds forwarder configuration
type Config struct {
	Transport http.RoundTripper
	// FlushInterval > 0 flushes the response while copying, for
	// streaming backends.
	FlushInterval time.Duration
}

// New creates a forwarder. A nil transport uses DefaultTransportConfig.
func New(cfg Config) *Forwarder {
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(DefaultTransportConfig)
	}
	return &Forwarder{
		transport:     transport,
		flushInterval: cfg.FlushInterval,
		logger:        logging.Global().Named("proxy"),
	}
}

// Forward implements engine.Forwarder. The outbound request already carries
// every filter mutation, including the Host authority.
func (f *Forwarder) Forward(w http.ResponseWriter, d *engine.Decision) {
	out := d.Outbound
	ctx := out.Context()

	req := out.Clone(ctx)
	req.URL.Scheme = "http"
	req.URL.Host = d.Address()
	req.RequestURI = ""
	removeHopHeaders(req.Header)
	setForwardedHeaders(req, out)

	resp, err := f.transport.RoundTrip(req)
	if err != nil {
		f.handleError(w, d, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	for _, mod := range d.ResponseHeaders {
		filters.ApplyResponseHeaders(w.Header(), mod)
	}
	w.WriteHeader(resp.StatusCode)
	f.copyBody(w, resp.Body)
}

func (f *Forwarder) handleError(w http.ResponseWriter, d *engine.Decision, err error) {
	switch {
	case stderrors.Is(err, context.Canceled):
		// The client is gone; nothing to write.
		f.logger.Debug("upstream request canceled", zap.String("request_id", d.RequestID))
		return
	case stderrors.Is(err, context.DeadlineExceeded):
		errors.Wrap(errors.ErrGatewayTimeout, err).WithRequestID(d.RequestID).WriteJSON(w)
	default:
		errors.Wrap(errors.ErrBadGateway, err).WithRequestID(d.RequestID).WriteJSON(w)
	}
	f.logger.Warn("upstream request failed",
		zap.String("request_id", d.RequestID),
		zap.String("rule", d.RuleID()),
		zap.String("endpoint", d.Address()),
		zap.Error(err),
	)
}

// copyBody copies the response body
func (f *Forwarder) copyBody(w http.ResponseWriter, body io.Reader) {
	if f.flushInterval > 0 {
		if flusher, ok := w.(http.Flusher); ok {
			last := time.Now()
			buf := make([]byte, 32*1024)
			for {
				n, err := body.Read(buf)
				if n > 0 {
					if _, werr := w.Write(buf[:n]); werr != nil {
						return
					}
					if time.Since(last) >= f.flushInterval {
						flusher.Flush()
						last = time.Now()
					}
				}
				if err != nil {
					flusher.Flush()
					return
				}
			}
		}
	}
	_, _ = io.Copy(w, body)
}

// copyHeaders copies headers from source to destination
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// setForwardedHeaders appends the client address to X-Forwarded-For and
// records the inbound scheme.
func setForwardedHeaders(req, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := req.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		req.Header.Set("X-Forwarded-For", ip)
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
}
