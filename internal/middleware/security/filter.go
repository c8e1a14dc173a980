// Package security provides request filtering middleware placed in front of
// the router.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Config holds the configuration for security middleware
type Config struct {
	// FilterEnabled enables the path filter
	FilterEnabled bool
	// MaxBodySizeKB caps request bodies; raffle payloads are tiny
	MaxBodySizeKB int
}

// servedRoots are the only path roots the server answers. Anything else is
// scanner traffic and is refused before routing.
var servedRoots = []string{
	"/api/v1/",
	"/health",
	"/healthz",
	"/readyz",
	"/version",
	"/metrics",
}

// traversalPatterns are matched against the lowercased raw and decoded path
var traversalPatterns = []string{
	"../",
	"..\\",
	"..%2f",
	"..%5c",
	"%2e%2e",
	"%00",
	"\x00",
}

func served(path string) bool {
	for _, root := range servedRoots {
		if strings.HasSuffix(root, "/") {
			if strings.HasPrefix(path, root) {
				return true
			}
		} else if path == root {
			return true
		}
	}
	return false
}

func traversal(r *http.Request) bool {
	candidates := []string{strings.ToLower(r.URL.Path)}
	raw := r.URL.RawPath
	if raw == "" {
		raw = r.URL.EscapedPath()
	}
	candidates = append(candidates, strings.ToLower(raw))
	if decoded, err := url.PathUnescape(raw); err == nil {
		candidates = append(candidates, strings.ToLower(decoded))
	}

	for _, c := range candidates {
		for _, p := range traversalPatterns {
			if strings.Contains(c, p) {
				return true
			}
		}
	}
	return false
}

// FilterMiddleware refuses traversal attempts with 400 and paths outside the
// served roots with 404, without revealing which rule fired.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if traversal(r) {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
				return
			}
			if !served(r.URL.Path) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimitMiddleware caps request bodies at maxKB kilobytes and requires
// JSON on POST requests that carry a body.
func BodyLimitMiddleware(maxKB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxKB) * 1024

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.ContentLength != 0 {
				ct := r.Header.Get("Content-Type")
				if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
					writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
					return
				}
				if r.ContentLength > maxBytes {
					writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
					return
				}
			}
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
