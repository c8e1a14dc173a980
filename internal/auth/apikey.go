package auth

import (
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// KeyPrefix is the prefix for all API keys
	KeyPrefix = "rfl_key_"
	// KeyLength is the number of hex characters after the prefix
	KeyLength = 48
)

// WellFormed reports whether key has the shape of an issued API key.
func WellFormed(key string) bool {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || len(rest) != KeyLength {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// FromRequest extracts the API key from the X-API-Key header, falling back
// to an Authorization bearer token.
func FromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
