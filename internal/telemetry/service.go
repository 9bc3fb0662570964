package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/sensorhub/internal/authkit"
	"go.uber.org/zap"
)

// Counter names recorded for ingested readings.
const (
	MetricIngestAccepted = "telemetry.ingest.accepted"
	MetricIngestRejected = "telemetry.ingest.rejected"
)

// ServiceDependencies wires the measurement service.
type ServiceDependencies struct {
	Store   Store
	Sinks   []Sink
	Clock   authkit.Clock
	Metrics authkit.MetricsRecorder
	Logger  *zap.Logger
}

// Service records and lists measurements.
type Service struct {
	store   Store
	sinks   []Sink
	clock   authkit.Clock
	metrics authkit.MetricsRecorder
	logger  *zap.Logger
}

// NewService validates dependencies.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Store == nil {
		return nil, errors.New("telemetry.service.new: store is required")
	}
	service := &Service{
		store:   dependencies.Store,
		sinks:   dependencies.Sinks,
		clock:   dependencies.Clock,
		metrics: dependencies.Metrics,
		logger:  dependencies.Logger,
	}
	if service.clock == nil {
		service.clock = authkit.NewSystemClock()
	}
	if service.metrics == nil {
		service.metrics = authkit.NewCounterMetrics()
	}
	if service.logger == nil {
		service.logger = zap.NewNop()
	}
	return service, nil
}

// Record validates reading and stores it on behalf of recordedBy.
func (service *Service) Record(ctx context.Context, recordedBy string, reading Reading) (Measurement, error) {
	if strings.TrimSpace(recordedBy) == "" {
		return Measurement{}, fmt.Errorf("telemetry.record: %w: missing recorder", ErrInvalidMeasurement)
	}
	if err := reading.Validate(); err != nil {
		return Measurement{}, fmt.Errorf("telemetry.record: %w", err)
	}
	recordedAt := service.clock.Now().UTC()
	if reading.RecordedAt != nil {
		recordedAt = reading.RecordedAt.UTC()
	}
	stored, err := service.store.CreateMeasurement(ctx, Measurement{
		Temperature: *reading.Temperature,
		Humidity:    *reading.Humidity,
		RecordedAt:  recordedAt.Truncate(time.Microsecond),
		RecordedBy:  recordedBy,
	})
	if err != nil {
		return Measurement{}, fmt.Errorf("telemetry.record: %w", err)
	}
	for _, sink := range service.sinks {
		sink.Write(stored)
	}
	service.metrics.Increment(MetricIngestAccepted)
	service.logger.Debug("measurement recorded",
		zap.String("code", "telemetry.ingest.accepted"),
		zap.Int64("measurement_id", stored.ID),
		zap.String("recorded_by", recordedBy))
	return stored, nil
}

// Get returns a single measurement.
func (service *Service) Get(ctx context.Context, id int64) (Measurement, error) {
	measurement, err := service.store.GetMeasurement(ctx, id)
	if err != nil {
		return Measurement{}, fmt.Errorf("telemetry.get: %w", err)
	}
	return measurement, nil
}

// List filters by time range, thins by minimum interval, then paginates.
func (service *Service) List(ctx context.Context, query Query) (Page, error) {
	normalized, err := query.Normalize()
	if err != nil {
		return Page{}, fmt.Errorf("telemetry.list: %w", err)
	}
	measurements, err := service.store.ListMeasurements(ctx, normalized.Range)
	if err != nil {
		return Page{}, fmt.Errorf("telemetry.list: %w", err)
	}
	return Paginate(Thin(measurements, normalized.MinInterval), normalized.Page, normalized.PageSize), nil
}
