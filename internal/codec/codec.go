package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"injest/telemetry-agent/internal/models"

	"github.com/google/uuid"
)

// Codec builds envelopes for one device and converts them to wire frames
type Codec struct {
	deviceID int
}

// New creates a codec stamping every envelope with deviceID
func New(deviceID int) *Codec {
	return &Codec{deviceID: deviceID}
}

// DeviceID returns the device id embedded in every envelope
func (c *Codec) DeviceID() int {
	return c.deviceID
}

// NewEnvelope wraps a payload with a fresh message id
func (c *Codec) NewEnvelope(msgType models.MessageType, data any) models.Envelope {
	return models.Envelope{
		MessageID: uuid.NewString(),
		Type:      msgType,
		Data:      data,
		DeviceID:  c.deviceID,
	}
}

// Encode serializes a single envelope
func (c *Codec) Encode(env models.Envelope) ([]byte, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}
	return frame, nil
}

// EncodeBatch serializes envelopes as one JSON array frame
func (c *Codec) EncodeBatch(envs []models.Envelope) ([]byte, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("cannot encode empty batch")
	}
	frame, err := json.Marshal(envs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch of %d envelopes: %w", len(envs), err)
	}
	return frame, nil
}

// ackFrame mirrors Acknowledgement with pointers so missing fields can be detected
type ackFrame struct {
	MessageID   *string `json:"message_id"`
	Status      *int    `json:"status"`
	MessageType *string `json:"message_type"`
}

// DecodeAck parses an inbound acknowledgement. Unknown fields are ignored.
// It reports false for anything that is not an object carrying a non-empty
// message_id, an integer status and a non-empty message_type.
func DecodeAck(frame []byte) (models.Acknowledgement, bool) {
	var raw ackFrame
	if err := json.Unmarshal(frame, &raw); err != nil {
		return models.Acknowledgement{}, false
	}
	if raw.MessageID == nil || raw.Status == nil || raw.MessageType == nil {
		return models.Acknowledgement{}, false
	}
	if *raw.MessageID == "" || *raw.MessageType == "" {
		return models.Acknowledgement{}, false
	}
	return models.Acknowledgement{
		MessageID:   *raw.MessageID,
		Status:      *raw.Status,
		MessageType: *raw.MessageType,
	}, true
}

// GPS builds a gps payload
func GPS(latitude, longitude, altitude float64, timeMs int64) models.GPSData {
	return models.GPSData{
		Latitude:  latitude,
		Longitude: longitude,
		Altitude:  altitude,
		Time:      timeMs,
	}
}

// Sensor builds a single sensor payload; missing axes encode as null
func Sensor(sample models.SensorSample) models.SensorData {
	data := models.SensorData{
		Time:       sample.Time,
		SensorType: sample.SensorType,
	}
	axes := []**float32{&data.X, &data.Y, &data.Z}
	for i, axis := range axes {
		if sample.Present[i] {
			v := sample.Values[i]
			*axis = &v
		}
	}
	return data
}

// Audio encodes already-compressed sample bytes as base64
func Audio(compressed []byte) string {
	return base64.StdEncoding.EncodeToString(compressed)
}

// ImageCapture is a prepared image handed over by a capture collaborator
type ImageCapture struct {
	Compressed    []byte
	IsScreenshot  bool
	IsGenerated   bool
	IsManual      bool
	IsFrontCamera bool
	IsRearCamera  bool
	Hash          string // optional hex digest of Compressed
	ID            string // optional
}

// Image builds a screenshot/image/manual_photo payload
func Image(capture ImageCapture) models.ImageData {
	return models.ImageData{
		Data:          base64.StdEncoding.EncodeToString(capture.Compressed),
		IsScreenshot:  capture.IsScreenshot,
		IsGenerated:   capture.IsGenerated,
		IsManual:      capture.IsManual,
		IsFrontCamera: capture.IsFrontCamera,
		IsRearCamera:  capture.IsRearCamera,
		ImageHash:     capture.Hash,
		ImageID:       capture.ID,
	}
}

// Power builds a power_connection payload
func Power(isPlugged bool) models.PowerConnectionData {
	return models.PowerConnectionData{IsPlugged: isPlugged}
}

// Text builds a free-form string payload (notification)
func Text(s string) string {
	return s
}

// RawJSON embeds producer JSON verbatim (sms, system_stats, app_usage).
// Input that is not valid JSON is carried as a string instead.
func RawJSON(payload []byte) any {
	if len(payload) > 0 && json.Valid(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}
