package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]["code"]
}

func TestFilterMiddleware(t *testing.T) {
	handler := FilterMiddleware(true)(ok())

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/raffle", http.StatusOK},
		{"/api/v1/raffle/players/0", http.StatusOK},
		{"/health", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/version", http.StatusOK},
		{"/wp-admin/", http.StatusNotFound},
		{"/.env", http.StatusNotFound},
		{"/healthcheck", http.StatusNotFound},
		{"/api/v2/raffle", http.StatusNotFound},
		{"/api/v1/..%2f..%2fetc/passwd", http.StatusBadRequest},
		{"/api/v1/%2e%2e/secret", http.StatusBadRequest},
		{"/api/v1/raffle%00", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestFilterMiddleware_Disabled(t *testing.T) {
	handler := FilterMiddleware(false)(ok())

	for _, path := range []string{"/wp-admin/", "/.git/config", "/phpinfo.php"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestFilterMiddleware_BlockedBodyIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	FilterMiddleware(true)(ok()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/..%2fx", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "traversal")
}

func TestBodyLimitMiddleware(t *testing.T) {
	var read []byte
	handler := BodyLimitMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		read = b
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small json body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/raffle/entries", strings.NewReader(`{"player":"0x1"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"player":"0x1"}`, string(read))
	})

	t.Run("declared length too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/raffle/entries", strings.NewReader(strings.Repeat("a", 2048)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rec))
	})

	t.Run("undeclared length is capped while reading", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/raffle/entries", strings.NewReader(strings.Repeat("a", 2048)))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/raffle/entries", strings.NewReader("player=0x1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("empty post without content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/raffle/upkeep", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
