// Package telemetry stores environment readings posted by authenticated users and devices.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidMeasurement indicates a reading outside the accepted ranges.
	ErrInvalidMeasurement = errors.New("telemetry.invalid_measurement")
	// ErrMeasurementNotFound indicates no reading matched the id.
	ErrMeasurementNotFound = errors.New("telemetry.measurement_not_found")
	// ErrInvalidQuery indicates malformed list parameters.
	ErrInvalidQuery = errors.New("telemetry.invalid_query")
)

// Measurement is a single temperature/humidity reading.
type Measurement struct {
	ID          int64     `json:"id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RecordedAt  time.Time `json:"recorded_at"`
	RecordedBy  string    `json:"recorded_by"`
}

// Reading is the client-supplied part of a measurement.
type Reading struct {
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	RecordedAt  *time.Time `json:"recorded_at"`
}

// Validate checks that both values are present and in range.
func (reading Reading) Validate() error {
	if reading.Temperature == nil || reading.Humidity == nil {
		return fmt.Errorf("%w: temperature and humidity are required", ErrInvalidMeasurement)
	}
	if math.IsNaN(*reading.Temperature) || math.IsInf(*reading.Temperature, 0) {
		return fmt.Errorf("%w: temperature must be finite", ErrInvalidMeasurement)
	}
	if math.IsNaN(*reading.Humidity) || *reading.Humidity < 0 || *reading.Humidity > 100 {
		return fmt.Errorf("%w: humidity must be between 0 and 100", ErrInvalidMeasurement)
	}
	return nil
}

// TimeRange bounds a listing; nil ends are open and both ends are inclusive.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether instant falls within the range.
func (timeRange TimeRange) Contains(instant time.Time) bool {
	if timeRange.Start != nil && instant.Before(*timeRange.Start) {
		return false
	}
	if timeRange.End != nil && instant.After(*timeRange.End) {
		return false
	}
	return true
}

// Store persists measurements.
type Store interface {
	CreateMeasurement(ctx context.Context, measurement Measurement) (Measurement, error)
	GetMeasurement(ctx context.Context, id int64) (Measurement, error)
	// ListMeasurements returns every measurement in timeRange ordered by RecordedAt ascending.
	ListMeasurements(ctx context.Context, timeRange TimeRange) ([]Measurement, error)
}
