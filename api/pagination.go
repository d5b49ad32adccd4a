package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// queryInt returns the positive integer query value for key, or def.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// paginate cuts one page out of items using the "limit" and "offset"
// query parameters. Invalid values fall back to defaults; limit is capped.
func paginate[T any](r *http.Request, items []T) ([]T, PaginationMeta) {
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit == 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)
	offset := queryInt(r, "offset", 0)

	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return items[start:end], PaginationMeta{
		TotalCount: len(items),
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < len(items),
	}
}
