package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// DefaultPageSize is used when a service is built with a non-positive size.
const DefaultPageSize = 5

// Page is one slice of an ordered listing. Numbers start at 1.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Number   int   `json:"page"`
	Size     int   `json:"page_size"`
	Total    int64 `json:"total"`
	NumPages int   `json:"num_pages"`
	HasNext  bool  `json:"has_next"`
	HasPrev  bool  `json:"has_previous"`
}

func (p Page[T]) NextNumber() int     { return p.Number + 1 }
func (p Page[T]) PreviousNumber() int { return p.Number - 1 }

// ParsePage reads a ?page= value. Empty means 1; "last" is resolved later;
// anything else that is not a positive integer is ErrPageNotFound.
func ParsePage(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	if raw == "last" {
		return LastPage, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrPageNotFound, raw)
	}
	return n, nil
}

// LastPage asks paginate for the final page.
const LastPage = -1

// paginate counts query() and fetches one page through finish(query()).
// query is called twice so the count and the fetch never share statement state.
// An empty listing still has a valid first page.
func paginate[T any](ctx context.Context, query func() *gorm.DB, finish func(*gorm.DB) *gorm.DB, number, size int) (Page[T], error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	var total int64
	if err := query().WithContext(ctx).Count(&total).Error; err != nil {
		return Page[T]{}, fmt.Errorf("count: %w", err)
	}
	numPages := int((total + int64(size) - 1) / int64(size))
	if numPages == 0 {
		numPages = 1
	}
	if number == LastPage {
		number = numPages
	}
	if number < 1 || number > numPages {
		return Page[T]{}, fmt.Errorf("%w: page %d of %d", ErrPageNotFound, number, numPages)
	}

	items := make([]T, 0, size)
	q := finish(query().WithContext(ctx)).Offset((number - 1) * size).Limit(size)
	if err := q.Find(&items).Error; err != nil {
		return Page[T]{}, fmt.Errorf("fetch page %d: %w", number, err)
	}
	return Page[T]{
		Items:    items,
		Number:   number,
		Size:     size,
		Total:    total,
		NumPages: numPages,
		HasNext:  number < numPages,
		HasPrev:  number > 1,
	}, nil
}
