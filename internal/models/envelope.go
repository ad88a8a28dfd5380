package models

import "fmt"

// MessageType is the telemetry category carried in an envelope's "type" field
type MessageType string

// MessageType constants matching the collector's category names
const (
	TypeAudio           MessageType = "audio"
	TypeGPS             MessageType = "gps"
	TypeSensor          MessageType = "sensor"
	TypeScreenshot      MessageType = "screenshot"
	TypeImage           MessageType = "image"
	TypeManualPhoto     MessageType = "manual_photo"
	TypeNotification    MessageType = "notification"
	TypePowerConnection MessageType = "power_connection"
	TypeSMS             MessageType = "sms"
	TypeSystemStats     MessageType = "system_stats"
	TypeAppUsage        MessageType = "app_usage"
)

// AllMessageTypes lists every category in a stable order
var AllMessageTypes = []MessageType{
	TypeAudio,
	TypeGPS,
	TypeSensor,
	TypeScreenshot,
	TypeImage,
	TypeManualPhoto,
	TypeNotification,
	TypePowerConnection,
	TypeSMS,
	TypeSystemStats,
	TypeAppUsage,
}

// ParseMessageType validates a category name
func ParseMessageType(s string) (MessageType, error) {
	for _, t := range AllMessageTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type: %q", s)
}

// IsBatchable reports whether events of this type are coalesced by the batcher
func (t MessageType) IsBatchable() bool {
	return t == TypeSensor
}

// Envelope is one outbound unit of telemetry
type Envelope struct {
	MessageID string      `json:"message_id"`
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	DeviceID  int         `json:"device_id"`
}

// Acknowledgement is the collector's confirmation for one envelope
type Acknowledgement struct {
	MessageID   string `json:"message_id"`
	Status      int    `json:"status"`
	MessageType string `json:"message_type"`
}

// GPSData is the payload of a gps envelope
type GPSData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Time      int64   `json:"time"` // Unix timestamp in milliseconds
}

// SensorData is the payload of a single sensor envelope
type SensorData struct {
	Time       int64    `json:"time"`
	SensorType string   `json:"sensorType"`
	X          *float32 `json:"x"`
	Y          *float32 `json:"y"`
	Z          *float32 `json:"z"`
}

// ImageData is the payload of screenshot, image and manual_photo envelopes
type ImageData struct {
	Data          string `json:"data"` // base64 of compressed image bytes
	IsScreenshot  bool   `json:"isScreenshot"`
	IsGenerated   bool   `json:"isGenerated"`
	IsManual      bool   `json:"isManual"`
	IsFrontCamera bool   `json:"isFrontCamera"`
	IsRearCamera  bool   `json:"isRearCamera"`
	ImageHash     string `json:"image_hash,omitempty"`
	ImageID       string `json:"image_id,omitempty"`
}

// PowerConnectionData is the payload of a power_connection envelope
type PowerConnectionData struct {
	IsPlugged bool `json:"isPlugged"`
}
