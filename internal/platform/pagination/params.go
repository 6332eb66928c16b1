package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the page size used when the client omits limit.
	DefaultLimit = 10
	// MaxLimit caps limit so one request cannot scan the whole collection.
	MaxLimit = 100
)

var (
	ErrInvalidPage  = errors.New("page must be a positive integer")
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// Params is a 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// Offset is the number of items preceding the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Parse reads the page and limit query parameters. Missing values take the defaults and a
// limit above MaxLimit is clamped.
func Parse(values url.Values) (Params, error) {
	params := Params{Page: 1, Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, ErrInvalidPage
		}
		params.Page = page
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return Params{}, ErrInvalidLimit
		}
		params.Limit = min(limit, MaxLimit)
	}

	return params, nil
}

// TotalPages is the number of pages needed for total items.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
