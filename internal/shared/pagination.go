package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// MaxPerPage caps the page size a caller may request.
const MaxPerPage = 200

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if total < 0 {
		total = 0
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Bounds returns the slice window [start, end) for the page within total items.
// Pages past the end yield an empty window at total.
func (p Pagination) Bounds() (int, int) {
	if p.Total <= 0 || p.PerPage <= 0 || p.Page <= 0 {
		return 0, 0
	}
	if p.Page-1 > p.Total/p.PerPage {
		return p.Total, p.Total
	}
	start := (p.Page - 1) * p.PerPage
	if start > p.Total {
		start = p.Total
	}
	end := p.Total
	if p.Total-start > p.PerPage {
		end = start + p.PerPage
	}
	return start, end
}
