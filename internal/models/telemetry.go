package models

import (
	"encoding/json"
	"time"
)

// ConnectionState is the status of the collector connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// MarshalJSON renders the state by name
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SensorSample is one motion/environment reading waiting in the batcher.
// Values holds x, y, z; Present marks which axes the sensor reported.
type SensorSample struct {
	Time       int64 // Unix timestamp in milliseconds
	SensorType string
	Values     [3]float32
	Present    [3]bool
}

// NewSensorSample copies up to three axis values from a reading
func NewSensorSample(sensorType string, values []float32, at time.Time) SensorSample {
	s := SensorSample{
		Time:       at.UnixMilli(),
		SensorType: sensorType,
	}
	for i := 0; i < len(values) && i < 3; i++ {
		s.Values[i] = values[i]
		s.Present[i] = true
	}
	return s
}

// ResponseTimeRecord is one round-trip sample for a message type
type ResponseTimeRecord struct {
	Sequence int64         `json:"sequence"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"-"`
}

// MarshalJSON exposes the duration in milliseconds
func (r ResponseTimeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sequence   int64 `json:"sequence"`
		Status     int   `json:"status"`
		DurationMs int64 `json:"duration_ms"`
	}{r.Sequence, r.Status, r.Duration.Milliseconds()})
}

// StoredResponseTime is a response-time record as kept in local storage
type StoredResponseTime struct {
	ID          int64       `json:"id"`
	MessageType MessageType `json:"message_type"`
	Sequence    int64       `json:"sequence"`
	Status      int         `json:"status"`
	DurationMs  int64       `json:"duration_ms"`
	RecordedAt  time.Time   `json:"recorded_at"`
}
