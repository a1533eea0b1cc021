package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// errNotRouted is the cause of a HandshakeError for a connection that
// net/http closed before any request reached the router, such as one
// sending a garbage request line.
var errNotRouted = errors.New("request rejected before routing")

type connTrackerKey struct{}

// connTracker remembers whether a connection ever reached the router.
type connTracker struct {
	active atomic.Bool
	routed atomic.Bool
}

// connWatch follows connections through their net/http states.
type connWatch struct {
	conns  sync.Map // net.Conn -> *connTracker
	reject func(remote string, err error)
}

func (w *connWatch) connContext(ctx context.Context, c net.Conn) context.Context {
	t := &connTracker{}
	w.conns.Store(c, t)
	return context.WithValue(ctx, connTrackerKey{}, t)
}

func (w *connWatch) connState(c net.Conn, state http.ConnState) {
	v, ok := w.conns.Load(c)
	if !ok {
		return
	}
	t := v.(*connTracker)

	switch state {
	case http.StateActive:
		t.active.Store(true)
	case http.StateHijacked:
		w.conns.Delete(c)
	case http.StateClosed:
		w.conns.Delete(c)
		if t.active.Load() && !t.routed.Load() {
			w.reject(c.RemoteAddr().String(), errNotRouted)
		}
	}
}

// markRouted flags the request's connection as having reached the router.
func markRouted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t, ok := r.Context().Value(connTrackerKey{}).(*connTracker); ok {
			t.routed.Store(true)
		}
		next.ServeHTTP(w, r)
	})
}

// httpErrorWriter feeds net/http's internal error log into zerolog.
type httpErrorWriter struct {
	log zerolog.Logger
}

func (w httpErrorWriter) Write(p []byte) (int, error) {
	w.log.Warn().Str("source", "net/http").Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

func newHTTPErrorLog(l zerolog.Logger) *log.Logger {
	return log.New(httpErrorWriter{log: l}, "", 0)
}
