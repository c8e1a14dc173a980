package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const defaultPageLimit = 20

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return fmt.Sprintf("rfl_key_%s", hex.EncodeToString(b))
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// normalizeLimit applies the default page size
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	return limit
}

// parseCursor decodes a numeric cursor. An empty cursor decodes to 0.
func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return n, nil
}

// page trims an over-fetched slice to limit and computes the next cursor.
func page[T any](rows []T, limit int, key func(T) int64) *PaginatedResult[T] {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	var next string
	if hasMore && len(rows) > 0 {
		next = strconv.FormatInt(key(rows[len(rows)-1]), 10)
	}
	return &PaginatedResult[T]{Data: rows, HasMore: hasMore, NextCursor: next}
}
