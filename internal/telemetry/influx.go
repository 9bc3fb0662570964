package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	influxMeasurementName = "environment"
	influxConnectTimeout  = 10 * time.Second
)

// ErrInfluxUnhealthy indicates the InfluxDB server answered the ping but reported itself unhealthy.
var ErrInfluxUnhealthy = errors.New("telemetry.influx.unhealthy")

// Sink receives every stored measurement.
type Sink interface {
	Write(measurement Measurement)
}

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type pointWriter interface {
	WritePoint(point *write.Point)
}

// InfluxSink mirrors measurements into InfluxDB using the non-blocking write API.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	flush  func()
}

// ConnectInflux pings the server and returns a sink whose async write errors are logged.
func ConnectInflux(ctx context.Context, configuration InfluxConfig, logger *zap.Logger) (*InfluxSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := influxdb2.NewClientWithOptions(configuration.URL, configuration.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))

	pingCtx, cancel := context.WithTimeout(ctx, influxConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry.influx.ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("telemetry.influx.ping: %w", ErrInfluxUnhealthy)
	}

	writeAPI := client.WriteAPI(configuration.Org, configuration.Bucket)
	go func() {
		for writeErr := range writeAPI.Errors() {
			logger.Warn("influx write failed",
				zap.String("code", "telemetry.influx.write_failed"),
				zap.Error(writeErr))
		}
	}()
	return &InfluxSink{client: client, writer: writeAPI, flush: writeAPI.Flush}, nil
}

// Write queues measurement for the next batch.
func (sink *InfluxSink) Write(measurement Measurement) {
	sink.writer.WritePoint(MeasurementPoint(measurement))
}

// Close flushes pending points and releases the client.
func (sink *InfluxSink) Close() {
	if sink.flush != nil {
		sink.flush()
	}
	if sink.client != nil {
		sink.client.Close()
	}
}

// MeasurementPoint converts measurement into the `environment` point.
func MeasurementPoint(measurement Measurement) *write.Point {
	return write.NewPoint(
		influxMeasurementName,
		map[string]string{"recorded_by": measurement.RecordedBy},
		map[string]interface{}{
			"temperature": measurement.Temperature,
			"humidity":    measurement.Humidity,
		},
		measurement.RecordedAt,
	)
}
