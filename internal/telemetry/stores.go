package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tyemirov/sensorhub/internal/database"
	"gorm.io/gorm"
)

// MemoryStore keeps measurements in process memory.
type MemoryStore struct {
	mutex        sync.RWMutex
	nextID       int64
	measurements map[int64]Measurement
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{measurements: make(map[int64]Measurement)}
}

// CreateMeasurement assigns the next id and stores measurement.
func (store *MemoryStore) CreateMeasurement(ctx context.Context, measurement Measurement) (Measurement, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextID++
	measurement.ID = store.nextID
	store.measurements[measurement.ID] = measurement
	return measurement, nil
}

// GetMeasurement returns the measurement with id.
func (store *MemoryStore) GetMeasurement(ctx context.Context, id int64) (Measurement, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	measurement, ok := store.measurements[id]
	if !ok {
		return Measurement{}, fmt.Errorf("measurement_store.get.memory: %w", ErrMeasurementNotFound)
	}
	return measurement, nil
}

// ListMeasurements returns measurements within timeRange ordered by time, then id.
func (store *MemoryStore) ListMeasurements(ctx context.Context, timeRange TimeRange) ([]Measurement, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	matched := make([]Measurement, 0, len(store.measurements))
	for _, measurement := range store.measurements {
		if timeRange.Contains(measurement.RecordedAt) {
			matched = append(matched, measurement)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		if matched[left].RecordedAt.Equal(matched[right].RecordedAt) {
			return matched[left].ID < matched[right].ID
		}
		return matched[left].RecordedAt.Before(matched[right].RecordedAt)
	})
	return matched, nil
}

// DatabaseStore persists measurements using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

type measurementRow struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Temperature float64   `gorm:"column:temperature;not null"`
	Humidity    float64   `gorm:"column:humidity;not null"`
	RecordedAt  time.Time `gorm:"column:recorded_at;index;not null"`
	RecordedBy  string    `gorm:"column:recorded_by;not null"`
}

func (measurementRow) TableName() string {
	return "measurements"
}

func (row measurementRow) toMeasurement() Measurement {
	return Measurement{
		ID:          row.ID,
		Temperature: row.Temperature,
		Humidity:    row.Humidity,
		RecordedAt:  row.RecordedAt.UTC(),
		RecordedBy:  row.RecordedBy,
	}
}

// NewDatabaseStore migrates the measurements table on connection and returns a store.
func NewDatabaseStore(ctx context.Context, connection *database.Connection) (*DatabaseStore, error) {
	if err := connection.Migrate(ctx, &measurementRow{}); err != nil {
		return nil, fmt.Errorf("measurement_store.open: %w", err)
	}
	return &DatabaseStore{db: connection.DB, driverLabel: connection.Driver}, nil
}

// CreateMeasurement inserts measurement and returns it with its assigned id.
func (store *DatabaseStore) CreateMeasurement(ctx context.Context, measurement Measurement) (Measurement, error) {
	row := measurementRow{
		Temperature: measurement.Temperature,
		Humidity:    measurement.Humidity,
		RecordedAt:  measurement.RecordedAt.UTC(),
		RecordedBy:  measurement.RecordedBy,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Measurement{}, fmt.Errorf("measurement_store.create.%s: %w", store.driverLabel, err)
	}
	return row.toMeasurement(), nil
}

// GetMeasurement returns the measurement with id.
func (store *DatabaseStore) GetMeasurement(ctx context.Context, id int64) (Measurement, error) {
	var row measurementRow
	if err := store.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Measurement{}, fmt.Errorf("measurement_store.get.%s: %w", store.driverLabel, ErrMeasurementNotFound)
		}
		return Measurement{}, fmt.Errorf("measurement_store.get.%s: %w", store.driverLabel, err)
	}
	return row.toMeasurement(), nil
}

// ListMeasurements returns measurements within timeRange ordered by time, then id.
func (store *DatabaseStore) ListMeasurements(ctx context.Context, timeRange TimeRange) ([]Measurement, error) {
	query := store.db.WithContext(ctx).Model(&measurementRow{})
	if timeRange.Start != nil {
		query = query.Where("recorded_at >= ?", timeRange.Start.UTC())
	}
	if timeRange.End != nil {
		query = query.Where("recorded_at <= ?", timeRange.End.UTC())
	}
	var rows []measurementRow
	if err := query.Order("recorded_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("measurement_store.list.%s: %w", store.driverLabel, err)
	}
	measurements := make([]Measurement, 0, len(rows))
	for _, row := range rows {
		measurements = append(measurements, row.toMeasurement())
	}
	return measurements, nil
}
