package deeptrace

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Gate answers "who is calling" for HTTP requests using the session cookie.
// It never stores the identity on the request; protected handlers receive it
// as an argument.
type Gate struct {
	Sessions *SessionManager
}

func NewGate(sessions *SessionManager) *Gate {
	return &Gate{Sessions: sessions}
}

// Identify returns the caller or nil for anonymous requests.
func (g *Gate) Identify(r *http.Request) (*User, error) {
	return g.Sessions.ResolveSession(r.Context(), g.Sessions.SessionID(r))
}

// Require is Identify but fails with ErrUnauthorized for anonymous callers.
func (g *Gate) Require(r *http.Request) (*User, error) {
	user, err := g.Identify(r)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// AuthedHandlerFunc is a handler that runs only for authenticated callers.
type AuthedHandlerFunc func(w http.ResponseWriter, r *http.Request, user *User)

// Protect wraps a handler so it only runs for authenticated callers. Others
// get a 401 JSON error.
func (g *Gate) Protect(next AuthedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Require(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestLogger.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoggerFromContext returns the default logger tagged with the request id.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags each request with an id, logs its outcome and records
// HTTP metrics keyed by route template.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routeTemplate(r)
		elapsed := time.Since(start)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		LoggerFromContext(r.Context()).Info("request",
			"method", r.Method,
			"route", route,
			"status", rw.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

// routeTemplate keeps metric cardinality bounded by using the matched route
// pattern instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
