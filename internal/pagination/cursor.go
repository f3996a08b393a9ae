// Package pagination provides cursor-based paging over the audit trail.
//
// Audit rows are append-only and schema rewrites keep their order, so a
// row's index in the store is a stable position. A cursor names the oldest
// row a page returned; the next page holds the rows before it.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors that do not decode or that no
// longer point at the row they were issued for.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor represents a position in the audit trail.
type Cursor struct {
	Row int
	// ID is the attempt id of the row, empty for rows written before
	// attempt ids existed.
	ID string
}

// Encode returns an opaque cursor string.
func Encode(c Cursor) string {
	raw := fmt.Sprintf("%d|%s", c.Row, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	rowPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	row, err := strconv.Atoi(rowPart)
	if err != nil || row < 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Row: row, ID: id}, nil
}

// Resolve checks c against the current rows and returns the exclusive upper
// bound of the next page. A nil cursor starts at the newest row.
func Resolve[T any](items []T, c *Cursor, idOf func(T) string) (int, error) {
	if c == nil {
		return len(items), nil
	}
	if c.Row >= len(items) || idOf(items[c.Row]) != c.ID {
		return 0, ErrInvalidCursor
	}
	return c.Row, nil
}

// Before walks backwards from index before (exclusive) and collects up to
// limit items accepted by keep. The page is returned in store order. When
// older matching items remain, next is the index of the oldest item in the
// page; otherwise it is -1. A limit <= 0 collects everything.
func Before[T any](items []T, before, limit int, keep func(T) bool) (page []T, next int) {
	if before > len(items) {
		before = len(items)
	}

	var idx []int
	i := before - 1
	for ; i >= 0; i-- {
		if keep != nil && !keep(items[i]) {
			continue
		}
		if limit > 0 && len(idx) == limit {
			break
		}
		idx = append(idx, i)
	}

	page = make([]T, len(idx))
	for j, at := range idx {
		page[len(idx)-1-j] = items[at]
	}

	next = -1
	if i >= 0 && len(idx) > 0 {
		next = idx[len(idx)-1]
	}
	return page, next
}
