package service

import (
	"sync"
	"time"

	"injest/telemetry-agent/internal/models"
)

// TypeStats are the transfer counters of one message type
type TypeStats struct {
	BytesTransferred int64 `json:"bytesTransferred"`
	PacketsSent      int64 `json:"packetsSent"`
	Rejected         int64 `json:"rejected"`
	Dropped          int64 `json:"dropped"`
}

// TransferStats counts traffic per message type since startedAt
type TransferStats struct {
	mu        sync.Mutex
	startedAt time.Time
	perType   map[models.MessageType]*TypeStats
}

// NewTransferStats creates empty counters starting now
func NewTransferStats() *TransferStats {
	return &TransferStats{
		startedAt: time.Now(),
		perType:   make(map[models.MessageType]*TypeStats),
	}
}

func (s *TransferStats) counters(msgType models.MessageType) *TypeStats {
	c := s.perType[msgType]
	if c == nil {
		c = &TypeStats{}
		s.perType[msgType] = c
	}
	return c
}

// RecordSent counts one written frame carrying entries envelopes
func (s *TransferStats) RecordSent(msgType models.MessageType, bytes, entries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(msgType)
	c.BytesTransferred += int64(bytes)
	c.PacketsSent += int64(entries)
}

func (s *TransferStats) RecordRejected(msgType models.MessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(msgType).Rejected++
}

func (s *TransferStats) RecordDropped(msgType models.MessageType, entries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(msgType).Dropped += int64(entries)
}

// StartedAt returns when counting began
func (s *TransferStats) StartedAt() time.Time {
	return s.startedAt
}

// Snapshot copies the counters
func (s *TransferStats) Snapshot() map[models.MessageType]TypeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.MessageType]TypeStats, len(s.perType))
	for t, c := range s.perType {
		out[t] = *c
	}
	return out
}
