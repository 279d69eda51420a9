// Package pagination parses list query parameters and encodes the opaque page
// tokens returned by list endpoints.
package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/vinuvisthara/api/internal/domain"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads page_size and page_token. A non-positive page_size falls back
// to the default and oversized values are clamped. The token is validated but
// passed through unchanged.
func Parse(values url.Values, opts Options) (domain.Pagination, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}

	out := domain.Pagination{PageSize: def}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, ErrInvalidPageSize
		}
		switch {
		case size <= 0:
		case size > maxSize:
			out.PageSize = maxSize
		default:
			out.PageSize = size
		}
	}
	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		if _, err := DecodeOffset(token); err != nil {
			return domain.Pagination{}, err
		}
		out.PageToken = token
	}
	return out, nil
}
