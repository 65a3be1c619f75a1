// Package paginate windows an ordered in-memory collection into pages.
package paginate

import (
	"strconv"
	"strings"
)

// DefaultPageSize is used whenever a page size below one is requested.
const DefaultPageSize = 10

// MaxPageSize caps page sizes parsed from request parameters.
const MaxPageSize = 100

// Meta describes the page a window was cut from.
type Meta struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalItems  int  `json:"total_items"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`

	// PreviousPage and NextPage are the neighbouring page numbers, clamped
	// to the collection so templates can link them without arithmetic.
	PreviousPage int `json:"previous_page"`
	NextPage     int `json:"next_page"`
}

// Paginator tracks the current page over a slice of items.
// It is not safe for concurrent use.
type Paginator[T any] struct {
	items    []T
	page     int
	pageSize int
}

// New returns a paginator positioned on the first page.
func New[T any](items []T, pageSize int) *Paginator[T] {
	return &Paginator[T]{
		items:    items,
		page:     1,
		pageSize: normalizeSize(pageSize),
	}
}

// Items returns the window for the current page.
func (p *Paginator[T]) Items() []T {
	window, _ := Window(p.items, p.page, p.pageSize)
	return window
}

// Page returns the current page number, starting at 1.
func (p *Paginator[T]) Page() int {
	return p.page
}

// PageSize returns the number of items per page.
func (p *Paginator[T]) PageSize() int {
	return p.pageSize
}

// TotalItems returns the size of the underlying collection.
func (p *Paginator[T]) TotalItems() int {
	return len(p.items)
}

// TotalPages returns ceil(TotalItems / PageSize); zero for an empty collection.
func (p *Paginator[T]) TotalPages() int {
	return totalPages(len(p.items), p.pageSize)
}

// HasNextPage reports whether NextPage would move.
func (p *Paginator[T]) HasNextPage() bool {
	return p.page < p.TotalPages()
}

// HasPreviousPage reports whether PreviousPage would move.
func (p *Paginator[T]) HasPreviousPage() bool {
	return p.page > 1
}

// GoToPage moves to page n, clamped to [1, max(1, TotalPages)].
func (p *Paginator[T]) GoToPage(n int) {
	p.page = clamp(n, p.TotalPages())
}

// NextPage advances one page when there is one.
func (p *Paginator[T]) NextPage() {
	if p.HasNextPage() {
		p.page++
	}
}

// PreviousPage steps back one page when there is one.
func (p *Paginator[T]) PreviousPage() {
	if p.HasPreviousPage() {
		p.page--
	}
}

// SetItems swaps the collection, keeping the page number within range.
func (p *Paginator[T]) SetItems(items []T) {
	p.items = items
	p.page = clamp(p.page, p.TotalPages())
}

// SetPageSize changes the page size, keeping the page number within range.
func (p *Paginator[T]) SetPageSize(size int) {
	p.pageSize = normalizeSize(size)
	p.page = clamp(p.page, p.TotalPages())
}

// Meta reports the current position.
func (p *Paginator[T]) Meta() Meta {
	_, meta := Window(p.items, p.page, p.pageSize)
	return meta
}

// Window cuts the requested page out of items. The page is clamped the same
// way GoToPage clamps it and the returned slice shares backing storage with
// items.
func Window[T any](items []T, page, pageSize int) ([]T, Meta) {
	size := normalizeSize(pageSize)
	total := totalPages(len(items), size)
	page = clamp(page, total)

	meta := Meta{
		Page:         page,
		PageSize:     size,
		TotalItems:   len(items),
		TotalPages:   total,
		HasNext:      page < total,
		HasPrevious:  page > 1,
		PreviousPage: max(1, page-1),
		NextPage:     min(page+1, max(1, total)),
	}

	start := (page - 1) * size
	if start >= len(items) {
		return []T{}, meta
	}

	end := start + size
	if end > len(items) {
		end = len(items)
	}

	return items[start:end], meta
}

// Params holds page parameters parsed from a request.
type Params struct {
	Page    int
	PerPage int
}

// ParseParams reads page and per-page values as they arrive in a query
// string. Invalid values fall back to page 1 and def items per page.
func ParseParams(page, perPage string, def int) Params {
	params := Params{Page: 1, PerPage: normalizeSize(def)}

	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil && n > 0 {
		params.Page = n
	}

	if n, err := strconv.Atoi(strings.TrimSpace(perPage)); err == nil && n > 0 {
		params.PerPage = n
	}

	if params.PerPage > MaxPageSize {
		params.PerPage = MaxPageSize
	}

	return params
}

func normalizeSize(size int) int {
	if size < 1 {
		return DefaultPageSize
	}
	return size
}

func totalPages(count, size int) int {
	if count == 0 {
		return 0
	}
	return (count + size - 1) / size
}

func clamp(page, total int) int {
	return max(1, min(page, max(1, total)))
}
