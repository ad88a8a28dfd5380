package tracker

import (
	"time"

	"injest/telemetry-agent/internal/models"
)

// History is a fixed-capacity ring of response-time records for one type.
// Once full, each append overwrites the oldest record.
type History struct {
	records []models.ResponseTimeRecord
	next    int
	total   int64
}

func newHistory(capacity int) *History {
	return &History{records: make([]models.ResponseTimeRecord, 0, capacity)}
}

// append stores a record with the next sequence number and returns it
func (h *History) append(status int, duration time.Duration) models.ResponseTimeRecord {
	rec := models.ResponseTimeRecord{
		Sequence: h.total,
		Status:   status,
		Duration: duration,
	}
	h.total++

	if len(h.records) < cap(h.records) {
		h.records = append(h.records, rec)
		return rec
	}
	h.records[h.next] = rec
	h.next = (h.next + 1) % len(h.records)
	return rec
}

// snapshot copies the retained records, oldest first
func (h *History) snapshot() []models.ResponseTimeRecord {
	out := make([]models.ResponseTimeRecord, 0, len(h.records))
	out = append(out, h.records[h.next:]...)
	out = append(out, h.records[:h.next]...)
	return out
}
