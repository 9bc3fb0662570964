package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tyemirov/sensorhub/internal/authkit"
	"go.uber.org/zap"
)

// DefaultMQTTTopic matches every device measurement topic.
const DefaultMQTTTopic = "sensorhub/devices/+/measurements"

const (
	mqttConnectTimeout = 10 * time.Second
	mqttHandlerTimeout = 5 * time.Second
	mqttQoS            = byte(1)
)

// ErrMQTTConnect indicates the broker could not be reached in time.
var ErrMQTTConnect = errors.New("telemetry.mqtt.connect_failed")

// MessageHandler processes a single MQTT message.
type MessageHandler func(topic string, payload []byte) error

// DevicePayload is the JSON body devices publish.
type DevicePayload struct {
	AccessToken string     `json:"access_token"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	RecordedAt  *time.Time `json:"recorded_at"`
}

// Ingestor authenticates device payloads and stores their readings.
type Ingestor struct {
	service    *Service
	authorizer authkit.Authorizer
	metrics    authkit.MetricsRecorder
	logger     *zap.Logger
}

// NewIngestor wires an ingestor.
func NewIngestor(service *Service, authorizer authkit.Authorizer, metrics authkit.MetricsRecorder, logger *zap.Logger) *Ingestor {
	if metrics == nil {
		metrics = authkit.NewCounterMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{service: service, authorizer: authorizer, metrics: metrics, logger: logger}
}

// HandleMessage validates the embedded access token and records the reading.
func (ingestor *Ingestor) HandleMessage(topic string, payload []byte) error {
	device := deviceFromTopic(topic)
	var message DevicePayload
	if err := json.Unmarshal(payload, &message); err != nil {
		return ingestor.reject(device, "invalid_json", fmt.Errorf("telemetry.ingest: %w: %v", ErrInvalidMeasurement, err))
	}
	identity, authErr := ingestor.authorizer.Authorize(message.AccessToken)
	if authErr != nil {
		return ingestor.reject(device, authkit.ErrorCode(authErr), fmt.Errorf("telemetry.ingest: %w", authErr))
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttHandlerTimeout)
	defer cancel()
	measurement, err := ingestor.service.Record(ctx, identity.UserID, Reading{
		Temperature: message.Temperature,
		Humidity:    message.Humidity,
		RecordedAt:  message.RecordedAt,
	})
	if err != nil {
		reason := "storage_error"
		if errors.Is(err, ErrInvalidMeasurement) {
			reason = "invalid_measurement"
		}
		return ingestor.reject(device, reason, err)
	}
	ingestor.logger.Info("device measurement accepted",
		zap.String("code", "telemetry.ingest.accepted"),
		zap.String("device", device),
		zap.String("user_id", identity.UserID),
		zap.Int64("measurement_id", measurement.ID))
	return nil
}

func (ingestor *Ingestor) reject(device string, reason string, err error) error {
	ingestor.metrics.Increment(MetricIngestRejected)
	ingestor.logger.Warn("device measurement rejected",
		zap.String("code", "telemetry.ingest.rejected"),
		zap.String("device", device),
		zap.String("reason", reason))
	return err
}

// deviceFromTopic extracts the device segment of sensorhub/devices/<device>/measurements.
func deviceFromTopic(topic string) string {
	segments := strings.Split(topic, "/")
	for index := 0; index+1 < len(segments); index++ {
		if segments[index] == "devices" {
			return segments[index+1]
		}
	}
	return ""
}

// MQTTConfig addresses the broker and topic to subscribe to.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

// SubscribeMQTT connects to the broker and delivers every message on the topic to handler.
// The subscription is restored after reconnects. The returned function disconnects.
func SubscribeMQTT(configuration MQTTConfig, handler MessageHandler, logger *zap.Logger) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := configuration.Topic
	if strings.TrimSpace(topic) == "" {
		topic = DefaultMQTTTopic
	}
	wrapped := wrapHandler(handler, logger)

	options := pahomqtt.NewClientOptions().
		AddBroker(configuration.BrokerURL).
		SetClientID(configuration.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetCleanSession(false)
	options.SetOnConnectHandler(func(client pahomqtt.Client) {
		token := client.Subscribe(topic, mqttQoS, wrapped)
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			logger.Error("mqtt subscribe failed",
				zap.String("code", "telemetry.mqtt.subscribe_failed"),
				zap.String("topic", topic),
				zap.Error(token.Error()))
			return
		}
		logger.Info("mqtt subscribed",
			zap.String("code", "telemetry.mqtt.subscribed"),
			zap.String("topic", topic))
	})
	options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost",
			zap.String("code", "telemetry.mqtt.connection_lost"),
			zap.Error(err))
	})

	client := pahomqtt.NewClient(options)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return func() {
		client.Disconnect(250)
	}, nil
}

func wrapHandler(handler MessageHandler, logger *zap.Logger) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, message pahomqtt.Message) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("mqtt handler panic recovered",
					zap.String("code", "telemetry.mqtt.panic"),
					zap.String("topic", message.Topic()),
					zap.Any("panic", recovered))
			}
		}()
		if err := handler(message.Topic(), message.Payload()); err != nil {
			logger.Debug("mqtt handler returned error",
				zap.String("topic", message.Topic()),
				zap.Error(err))
		}
	}
}
