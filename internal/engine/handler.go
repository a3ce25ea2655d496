package engine

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/errors"
	"github.com/wudi/routeplane/internal/filters"
	"github.com/wudi/routeplane/internal/routing"
)

// Forwarder is the transport a selected decision is handed to. It writes
// the upstream response and applies d.ResponseHeaders to it.
type Forwarder interface {
	Forward(w http.ResponseWriter, d *Decision)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(w http.ResponseWriter, d *Decision)

func (f ForwarderFunc) Forward(w http.ResponseWriter, d *Decision) { f(w, d) }

// Handler serves requests arriving on listener: it evaluates each one and
// writes the terminal response or hands it to fwd.
func (e *Engine) Handler(listener routing.ListenerKey, scheme string, fwd Forwarder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := e.Evaluate(r.Context(), Request{HTTP: r, Listener: listener, Scheme: scheme})
		w.Header().Set(HeaderRequestID, d.RequestID)
		if err != nil {
			if errors.KindOf(err) == errors.KindCanceled {
				// The client is gone; nothing to write.
				return
			}
			re, ok := errors.As(err)
			if !ok {
				re = errors.Wrap(errors.ErrInternal, err).WithRequestID(d.RequestID)
			}
			re.WriteJSON(w)
			return
		}

		switch d.Outcome {
		case filters.Respond:
			if d.ContentType != "" {
				w.Header().Set("Content-Type", d.ContentType)
			}
			w.WriteHeader(d.StatusCode)
			if d.Body != "" {
				if _, err := w.Write([]byte(d.Body)); err != nil {
					e.logger.Debug("static response write failed", zap.Error(err))
				}
			}
		case filters.Redirect:
			w.Header().Set("Location", d.Location)
			w.WriteHeader(d.StatusCode)
		default:
			d.MarkForwarded()
			fwd.Forward(w, d)
		}
	})
}
