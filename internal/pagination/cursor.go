// Package pagination encodes opaque cursors for paged incident listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// Cursor is the decoded position of a page boundary: the last incident
// returned and the knowledge base version the page was read from
type Cursor struct {
	LastID  string
	Version int64
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates a URL-safe cursor from the last item ID and version
func EncodeCursor(lastID string, version int64) string {
	if lastID == "" {
		return ""
	}
	raw := strconv.FormatInt(version, 10) + "|" + lastID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor decodes a cursor. An empty cursor decodes to nil.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	// IDs may contain '|', the version never does
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}

	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || version < 0 {
		return nil, ErrInvalidCursor
	}

	return &Cursor{
		LastID:  parts[1],
		Version: version,
	}, nil
}

// NextCursor returns the cursor following the last item, or "" when there
// are no more items
func NextCursor[T any](items []T, hasMore bool, version int64, getID func(T) string) string {
	if !hasMore || len(items) == 0 {
		return ""
	}
	return EncodeCursor(getID(items[len(items)-1]), version)
}
