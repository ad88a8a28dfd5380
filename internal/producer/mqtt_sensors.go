package producer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"injest/telemetry-agent/internal/models"
	"injest/telemetry-agent/internal/service"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttKeepAlive       = 30 * time.Second
	mqttRetryInterval   = 5 * time.Second
	mqttDisconnectQuiet = 250 // milliseconds
	mqttQoS             = 0
)

// SensorSink receives sensor samples from the bridge
type SensorSink interface {
	SendSensor(sample models.SensorSample) service.Outcome
}

// SensorMessage is the payload a local sensor bridge publishes
type SensorMessage struct {
	SensorType string    `json:"sensorType"`
	Values     []float32 `json:"values"`
	Time       int64     `json:"time"` // Unix timestamp in milliseconds; 0 means now
}

// ParseSensorMessage turns an MQTT message into a sample. The last topic
// segment names the sensor when the payload does not.
func ParseSensorMessage(topic string, payload []byte, now time.Time) (models.SensorSample, error) {
	var msg SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.SensorSample{}, fmt.Errorf("invalid sensor payload: %w", err)
	}

	sensorType := msg.SensorType
	if sensorType == "" {
		if i := strings.LastIndexByte(topic, '/'); i >= 0 {
			sensorType = topic[i+1:]
		} else {
			sensorType = topic
		}
	}
	if sensorType == "" {
		return models.SensorSample{}, errors.New("sensor type missing from payload and topic")
	}
	if len(msg.Values) == 0 || len(msg.Values) > 3 {
		return models.SensorSample{}, fmt.Errorf("sensor payload has %d values, want 1 to 3", len(msg.Values))
	}

	at := now
	if msg.Time > 0 {
		at = time.UnixMilli(msg.Time)
	}
	return models.NewSensorSample(sensorType, msg.Values, at), nil
}

// MQTTSensorBridge subscribes to a topic filter on a local broker and
// forwards every reading to the sensor batcher
type MQTTSensorBridge struct {
	client mqtt.Client
	topic  string
	sink   SensorSink
	logger *zap.Logger
}

// NewMQTTSensorBridge creates a new bridge. Nothing connects until Start.
func NewMQTTSensorBridge(broker, clientID, topic string, sink SensorSink, logger *zap.Logger) *MQTTSensorBridge {
	b := &MQTTSensorBridge{
		topic:  topic,
		sink:   sink,
		logger: logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(mqttKeepAlive).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttRetryInterval).
		SetDefaultPublishHandler(b.onMessage).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	b.client = mqtt.NewClient(opts)
	return b
}

// Start connects in the background; subscriptions are (re)made on every
// successful connect
func (b *MQTTSensorBridge) Start() {
	b.client.Connect()
	b.logger.Info("MQTT sensor bridge started", zap.String("topic", b.topic))
}

// Stop unsubscribes and disconnects
func (b *MQTTSensorBridge) Stop() {
	if b.client.IsConnectionOpen() {
		if token := b.client.Unsubscribe(b.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
			b.logger.Warn("MQTT unsubscribe failed", zap.Error(token.Error()))
		}
	}
	b.client.Disconnect(mqttDisconnectQuiet)
	b.logger.Info("MQTT sensor bridge stopped")
}

// HandleMessage parses one reading and hands it to the sink
func (b *MQTTSensorBridge) HandleMessage(topic string, payload []byte) {
	sample, err := ParseSensorMessage(topic, payload, time.Now())
	if err != nil {
		b.logger.Warn("Dropping sensor message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	outcome := b.sink.SendSensor(sample)
	if !outcome.Accepted() {
		b.logger.Debug("Sensor sample not sent",
			zap.String("sensor_type", sample.SensorType),
			zap.Stringer("result", outcome.Result),
			zap.String("reason", outcome.Reason),
		)
	}
}

func (b *MQTTSensorBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.HandleMessage(msg.Topic(), msg.Payload())
}

func (b *MQTTSensorBridge) onConnect(c mqtt.Client) {
	b.logger.Info("MQTT connected")
	if token := c.Subscribe(b.topic, mqttQoS, nil); token.Wait() && token.Error() != nil {
		b.logger.Error("MQTT subscribe failed",
			zap.String("topic", b.topic),
			zap.Error(token.Error()),
		)
		return
	}
	b.logger.Info("MQTT subscribed", zap.String("topic", b.topic))
}

func (b *MQTTSensorBridge) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn("MQTT connection lost", zap.Error(err))
}
