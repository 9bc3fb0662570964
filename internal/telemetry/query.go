package telemetry

import (
	"fmt"
	"time"
)

const (
	// DefaultPageSize is used when a listing does not specify page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size.
	MaxPageSize = 100
)

// Query selects a page of measurements.
type Query struct {
	Range       TimeRange
	MinInterval time.Duration
	Page        int
	PageSize    int
}

// Page is one page of a measurement listing.
type Page struct {
	Items      []Measurement `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// Normalize fills defaults and rejects out-of-range values.
func (query Query) Normalize() (Query, error) {
	if query.Page == 0 {
		query.Page = 1
	}
	if query.PageSize == 0 {
		query.PageSize = DefaultPageSize
	}
	if query.Page < 1 {
		return Query{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidQuery)
	}
	if query.PageSize < 1 || query.PageSize > MaxPageSize {
		return Query{}, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidQuery, MaxPageSize)
	}
	if query.MinInterval < 0 {
		return Query{}, fmt.Errorf("%w: min_interval_minutes must be positive", ErrInvalidQuery)
	}
	if query.Range.Start != nil && query.Range.End != nil && query.Range.End.Before(*query.Range.Start) {
		return Query{}, fmt.Errorf("%w: end_time precedes start_time", ErrInvalidQuery)
	}
	return query, nil
}

// Thin keeps the first measurement and then every measurement at least minInterval after the
// last kept one. measurements must be sorted ascending by RecordedAt.
func Thin(measurements []Measurement, minInterval time.Duration) []Measurement {
	if minInterval <= 0 || len(measurements) == 0 {
		return measurements
	}
	kept := make([]Measurement, 0, len(measurements))
	var last time.Time
	for index, measurement := range measurements {
		if index == 0 || measurement.RecordedAt.Sub(last) >= minInterval {
			kept = append(kept, measurement)
			last = measurement.RecordedAt
		}
	}
	return kept
}

// Paginate slices measurements into the requested page.
func Paginate(measurements []Measurement, page int, pageSize int) Page {
	total := len(measurements)
	result := Page{
		Items:      []Measurement{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	if page < 1 || page > result.TotalPages {
		return result
	}
	offset := (page - 1) * pageSize
	end := offset + pageSize
	if end > total {
		end = total
	}
	result.Items = measurements[offset:end]
	return result
}
