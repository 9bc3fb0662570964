package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"
)

var baseInstant = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func measurementsEvery(count int, step time.Duration) []Measurement {
	measurements := make([]Measurement, 0, count)
	for index := 0; index < count; index++ {
		measurements = append(measurements, Measurement{
			ID:         int64(index + 1),
			RecordedAt: baseInstant.Add(time.Duration(index) * step),
		})
	}
	return measurements
}

func TestThinKeepsReadingsAtLeastIntervalApart(t *testing.T) {
	t.Parallel()

	measurements := measurementsEvery(10, 2*time.Minute)
	thinned := Thin(measurements, 5*time.Minute)
	expectedIDs := []int64{1, 4, 7, 10}
	if len(thinned) != len(expectedIDs) {
		t.Fatalf("expected %d readings, got %d", len(expectedIDs), len(thinned))
	}
	for index, expectedID := range expectedIDs {
		if thinned[index].ID != expectedID {
			t.Fatalf("position %d: expected id %d, got %d", index, expectedID, thinned[index].ID)
		}
	}

	if len(Thin(measurements, 0)) != 10 {
		t.Fatalf("zero interval must not thin")
	}
	exact := Thin(measurementsEvery(3, 5*time.Minute), 5*time.Minute)
	if len(exact) != 3 {
		t.Fatalf("readings exactly one interval apart must be kept, got %d", len(exact))
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	measurements := measurementsEvery(45, time.Minute)
	testCases := []struct {
		page          int
		pageSize      int
		expectedCount int
		expectedFirst int64
		expectedPages int
	}{
		{page: 1, pageSize: 20, expectedCount: 20, expectedFirst: 1, expectedPages: 3},
		{page: 3, pageSize: 20, expectedCount: 5, expectedFirst: 41, expectedPages: 3},
		{page: 4, pageSize: 20, expectedCount: 0, expectedPages: 3},
		{page: 1, pageSize: 100, expectedCount: 45, expectedFirst: 1, expectedPages: 1},
		{page: 922337203685477581, pageSize: 20, expectedCount: 0, expectedPages: 3},
		{page: math.MaxInt, pageSize: 100, expectedCount: 0, expectedPages: 1},
	}
	for _, testCase := range testCases {
		result := Paginate(measurements, testCase.page, testCase.pageSize)
		if len(result.Items) != testCase.expectedCount {
			t.Fatalf("page %d/%d: expected %d items, got %d", testCase.page, testCase.pageSize, testCase.expectedCount, len(result.Items))
		}
		if testCase.expectedCount > 0 && result.Items[0].ID != testCase.expectedFirst {
			t.Fatalf("page %d/%d: expected first id %d, got %d", testCase.page, testCase.pageSize, testCase.expectedFirst, result.Items[0].ID)
		}
		if result.Total != 45 || result.TotalPages != testCase.expectedPages {
			t.Fatalf("unexpected totals %+v", result)
		}
	}

	empty := Paginate(nil, 1, 20)
	if empty.Items == nil || empty.TotalPages != 0 {
		t.Fatalf("empty listing must have non-nil items and zero pages, got %+v", empty)
	}
}

func TestQueryNormalize(t *testing.T) {
	t.Parallel()

	normalized, err := Query{}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized.Page != 1 || normalized.PageSize != DefaultPageSize {
		t.Fatalf("unexpected defaults %+v", normalized)
	}

	later := baseInstant.Add(time.Hour)
	invalid := []Query{
		{Page: -1},
		{PageSize: 101},
		{PageSize: -5},
		{MinInterval: -time.Minute},
		{Range: TimeRange{Start: &later, End: &baseInstant}},
	}
	for _, query := range invalid {
		if _, err := query.Normalize(); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("expected ErrInvalidQuery for %+v, got %v", query, err)
		}
	}
}

func TestReadingValidate(t *testing.T) {
	t.Parallel()

	value := func(number float64) *float64 { return &number }
	testCases := []struct {
		name    string
		reading Reading
		valid   bool
	}{
		{name: "valid", reading: Reading{Temperature: value(21.5), Humidity: value(40)}, valid: true},
		{name: "humidity bounds", reading: Reading{Temperature: value(-10), Humidity: value(100)}, valid: true},
		{name: "humidity zero", reading: Reading{Temperature: value(0), Humidity: value(0)}, valid: true},
		{name: "humidity above", reading: Reading{Temperature: value(20), Humidity: value(100.1)}},
		{name: "humidity below", reading: Reading{Temperature: value(20), Humidity: value(-0.1)}},
		{name: "missing temperature", reading: Reading{Humidity: value(40)}},
		{name: "missing humidity", reading: Reading{Temperature: value(20)}},
	}
	for _, testCase := range testCases {
		err := testCase.reading.Validate()
		if testCase.valid && err != nil {
			t.Fatalf("%s: unexpected error %v", testCase.name, err)
		}
		if !testCase.valid && !errors.Is(err, ErrInvalidMeasurement) {
			t.Fatalf("%s: expected ErrInvalidMeasurement, got %v", testCase.name, err)
		}
	}
}
