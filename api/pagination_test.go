package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginate(t *testing.T) {
	items := make([]int, 120)
	for i := range items {
		items[i] = i
	}

	tests := []struct {
		query     string
		wantLen   int
		wantFirst int
		wantMeta  PaginationMeta
	}{
		{"", 50, 0, PaginationMeta{TotalCount: 120, Limit: 50, Offset: 0, HasMore: true}},
		{"?limit=10&offset=20", 10, 20, PaginationMeta{TotalCount: 120, Limit: 10, Offset: 20, HasMore: true}},
		{"?limit=500", 120, 0, PaginationMeta{TotalCount: 120, Limit: maxPageLimit, Offset: 0, HasMore: false}},
		{"?limit=abc&offset=-4", 50, 0, PaginationMeta{TotalCount: 120, Limit: 50, Offset: 0, HasMore: true}},
		{"?offset=110", 10, 110, PaginationMeta{TotalCount: 120, Limit: 50, Offset: 110, HasMore: false}},
		{"?offset=999", 0, -1, PaginationMeta{TotalCount: 120, Limit: 50, Offset: 999, HasMore: false}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			page, meta := paginate(httptest.NewRequest("GET", "/symbols"+tt.query, nil), items)
			assert.Len(t, page, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantFirst, page[0])
			}
			assert.Equal(t, tt.wantMeta, meta)
		})
	}
}
