package httpapi

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// logRequests logs one entry per request keyed by the route template, so
// path variables such as user ids and tokens never reach the log.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		entry := s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      rw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if rw.status >= http.StatusInternalServerError {
			entry.Warn("request completed")
			return
		}
		entry.Info("request completed")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal error", Message: msgInvalidRequest})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientContext copies the caller address and User-Agent into the request
// context for throttling and audit.
func (s *Server) clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authgate.WithClientIP(r.Context(), s.clientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = authgate.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
