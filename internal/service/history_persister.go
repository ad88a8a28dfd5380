package service

import (
	"context"
	"sync"
	"time"

	"injest/telemetry-agent/internal/models"

	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

// HistoryStore is where acknowledged round trips end up
type HistoryStore interface {
	SaveBatch(ctx context.Context, records []models.StoredResponseTime) error
	Prune(ctx context.Context, msgType models.MessageType, keep int) (int64, error)
}

// HistoryPersister buffers new response-time records and writes them to the
// store on an interval, keeping at most retain rows per type
type HistoryPersister struct {
	store         HistoryStore
	flushInterval time.Duration
	retain        int
	maxBuffered   int
	logger        *zap.Logger

	mu       sync.Mutex
	buffer   []models.StoredResponseTime
	touched  map[models.MessageType]struct{}
	dropped  int64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHistoryPersister creates a new history persister
func NewHistoryPersister(store HistoryStore, flushInterval time.Duration, retain int, logger *zap.Logger) *HistoryPersister {
	maxBuffered := retain
	if maxBuffered < 1000 {
		maxBuffered = 1000
	}
	return &HistoryPersister{
		store:         store,
		flushInterval: flushInterval,
		retain:        retain,
		maxBuffered:   maxBuffered,
		logger:        logger,
		touched:       make(map[models.MessageType]struct{}),
		stopChan:      make(chan struct{}),
	}
}

// Record buffers one record. It is the tracker's OnRecord hook and never
// touches the database.
func (p *HistoryPersister) Record(msgType models.MessageType, rec models.ResponseTimeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuffered {
		p.dropped++
		return
	}
	p.buffer = append(p.buffer, models.StoredResponseTime{
		MessageType: msgType,
		Sequence:    rec.Sequence,
		Status:      rec.Status,
		DurationMs:  rec.Duration.Milliseconds(),
		RecordedAt:  time.Now(),
	})
	p.touched[msgType] = struct{}{}
}

// Start begins periodic flushing
func (p *HistoryPersister) Start() {
	p.wg.Add(1)
	go p.flushLoop()

	p.logger.Info("History persister started",
		zap.Duration("flush_interval", p.flushInterval),
		zap.Int("retain", p.retain),
	)
}

// Stop ends the loop after a final flush
func (p *HistoryPersister) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
	p.logger.Info("History persister stopped")
}

// Flush writes buffered records and prunes the types that received new rows.
// Records are put back if the write fails.
func (p *HistoryPersister) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buffer
	touched := p.touched
	dropped := p.dropped
	p.buffer = nil
	p.touched = make(map[models.MessageType]struct{})
	p.dropped = 0
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Warn("History buffer overflowed, records discarded",
			zap.Int64("count", dropped),
		)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := p.store.SaveBatch(ctx, batch); err != nil {
		p.mu.Lock()
		room := p.maxBuffered - len(p.buffer)
		if room > len(batch) {
			room = len(batch)
		}
		if room > 0 {
			p.buffer = append(batch[:room:room], p.buffer...)
		}
		for t := range touched {
			p.touched[t] = struct{}{}
		}
		p.mu.Unlock()
		return err
	}

	if p.retain > 0 {
		for msgType := range touched {
			deleted, err := p.store.Prune(ctx, msgType, p.retain)
			if err != nil {
				p.logger.Error("Failed to prune response times",
					zap.String("message_type", string(msgType)),
					zap.Error(err),
				)
				continue
			}
			if deleted > 0 {
				p.logger.Debug("Pruned response times",
					zap.String("message_type", string(msgType)),
					zap.Int64("count", deleted),
				)
			}
		}
	}

	p.logger.Debug("Response times persisted", zap.Int("count", len(batch)))
	return nil
}

func (p *HistoryPersister) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flushWithTimeout()
		case <-p.stopChan:
			p.flushWithTimeout()
			return
		}
	}
}

func (p *HistoryPersister) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := p.Flush(ctx); err != nil {
		p.logger.Error("Failed to persist response times", zap.Error(err))
	}
}
