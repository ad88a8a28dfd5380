package tracker

import (
	"sync"
	"time"

	"injest/telemetry-agent/internal/models"

	"go.uber.org/zap"
)

// pendingSend is bookkeeping for a written envelope awaiting its ack
type pendingSend struct {
	msgType models.MessageType
	sentAt  time.Time
	payload []byte
}

// CorrelationTracker matches acknowledgements to pending sends and keeps
// per-type round-trip history. Pending entries expire after a TTL.
type CorrelationTracker struct {
	mu          sync.Mutex
	pending     map[string]pendingSend
	histories   map[models.MessageType]*History
	historySize int
	ttl         time.Duration
	lost        int64

	sweepInterval time.Duration
	onRecord      func(models.MessageType, models.ResponseTimeRecord)
	logger        *zap.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewCorrelationTracker creates a tracker. Pending sends older than ttl are
// evicted every sweepInterval once Start is called.
func NewCorrelationTracker(
	historySize int,
	ttl time.Duration,
	sweepInterval time.Duration,
	logger *zap.Logger,
) *CorrelationTracker {
	if historySize < 1 {
		historySize = 1
	}
	return &CorrelationTracker{
		pending:       make(map[string]pendingSend),
		histories:     make(map[models.MessageType]*History),
		historySize:   historySize,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// OnRecord registers a hook called for each new record. Must be set before
// acknowledgements start flowing.
func (t *CorrelationTracker) OnRecord(fn func(models.MessageType, models.ResponseTimeRecord)) {
	t.onRecord = fn
}

// Start begins the TTL sweep loop
func (t *CorrelationTracker) Start() {
	t.wg.Add(1)
	go t.sweepLoop()

	t.logger.Info("Correlation tracker started",
		zap.Duration("pending_ttl", t.ttl),
		zap.Int("history_size", t.historySize),
	)
}

// Stop ends the sweep loop
func (t *CorrelationTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
	t.logger.Info("Correlation tracker stopped")
}

// Track records ids as written at sentAt. Batch entries share one payload.
func (t *CorrelationTracker) Track(ids []string, msgType models.MessageType, payload []byte, sentAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		t.pending[id] = pendingSend{
			msgType: msgType,
			sentAt:  sentAt,
			payload: payload,
		}
	}
}

// Forget drops pending entries for frames that never reached the socket
func (t *CorrelationTracker) Forget(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.pending, id)
	}
}

// Acknowledge correlates an ack received at receivedAt. It returns the new
// history record, or false when the id is not pending.
func (t *CorrelationTracker) Acknowledge(ack models.Acknowledgement, receivedAt time.Time) (models.ResponseTimeRecord, bool) {
	t.mu.Lock()
	sent, ok := t.pending[ack.MessageID]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("Ignoring acknowledgement for unknown message",
			zap.String("message_id", ack.MessageID),
			zap.String("message_type", ack.MessageType),
		)
		return models.ResponseTimeRecord{}, false
	}
	delete(t.pending, ack.MessageID)

	msgType, err := models.ParseMessageType(ack.MessageType)
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn("Acknowledgement with unknown message type",
			zap.String("message_id", ack.MessageID),
			zap.String("message_type", ack.MessageType),
			zap.String("sent_type", string(sent.msgType)),
		)
		return models.ResponseTimeRecord{}, false
	}

	h := t.histories[msgType]
	if h == nil {
		h = newHistory(t.historySize)
		t.histories[msgType] = h
	}
	rec := h.append(ack.Status, receivedAt.Sub(sent.sentAt))
	onRecord := t.onRecord
	t.mu.Unlock()

	t.logger.Debug("Acknowledgement correlated",
		zap.String("message_id", ack.MessageID),
		zap.String("message_type", string(msgType)),
		zap.Int("status", ack.Status),
		zap.Duration("duration", rec.Duration),
	)

	if onRecord != nil {
		onRecord(msgType, rec)
	}
	return rec, true
}

// History returns the retained records for a type, oldest first
func (t *CorrelationTracker) History(msgType models.MessageType) []models.ResponseTimeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.histories[msgType]
	if h == nil {
		return nil
	}
	return h.snapshot()
}

// Histories returns a copy of every non-empty history
func (t *CorrelationTracker) Histories() map[models.MessageType][]models.ResponseTimeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[models.MessageType][]models.ResponseTimeRecord, len(t.histories))
	for msgType, h := range t.histories {
		out[msgType] = h.snapshot()
	}
	return out
}

// IsPending reports whether id is awaiting an acknowledgement
func (t *CorrelationTracker) IsPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// PendingCount returns the number of sends awaiting acknowledgement
func (t *CorrelationTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// LostCount returns how many pending sends expired without an ack
func (t *CorrelationTracker) LostCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

func (t *CorrelationTracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			t.Sweep(now)
		case <-t.stopChan:
			return
		}
	}
}

// Sweep evicts pending sends older than the TTL as of now
func (t *CorrelationTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	expired := 0
	for id, p := range t.pending {
		if now.Sub(p.sentAt) > t.ttl {
			delete(t.pending, id)
			expired++
		}
	}
	t.lost += int64(expired)
	t.mu.Unlock()

	if expired > 0 {
		t.logger.Debug("Expired unacknowledged sends",
			zap.Int("count", expired),
		)
	}
	return expired
}
