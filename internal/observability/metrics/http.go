package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Middleware records request counts and latencies. Requests are labelled by
// their chi route pattern, falling back to a normalized path for requests
// that matched no route.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "/*") {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath replaces identifier segments of API paths with {id}:
//
//	/api/v1/raffle/players/3 -> /api/v1/raffle/players/{id}
//	/api/v1/accounts/0x7099.../fund -> /api/v1/accounts/{id}/fund
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return path
	}

	segments := []string{"/api/v1"}
	for _, part := range strings.Split(rest, "/") {
		switch {
		case part == "":
		case isLikelyID(part):
			segments = append(segments, "{id}")
		default:
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, "/")
}

// isLikelyID reports whether a path segment is an address, hash, uuid or number.
func isLikelyID(segment string) bool {
	if hex, ok := strings.CutPrefix(segment, "0x"); ok {
		return isHex(hex)
	}
	if len(segment) >= 64 && isHex(segment) {
		return true
	}
	if strings.Count(segment, "-") >= 4 {
		return true
	}
	_, err := strconv.ParseUint(segment, 10, 64)
	return err == nil
}

func isHex(s string) bool {
	return s != "" && strings.TrimLeft(s, "0123456789abcdefABCDEF") == ""
}
