package collector

import (
	"sync"
	"time"

	"injest/telemetry-agent/internal/models"

	"go.uber.org/zap"
)

// SensorBatcher accumulates high-frequency sensor samples and hands them
// off as one batch when the threshold is reached
type SensorBatcher struct {
	samples       []models.SensorSample
	threshold     int
	flushInterval time.Duration
	onBatchReady  func([]models.SensorSample)
	logger        *zap.Logger
	mu            sync.Mutex
	started       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewSensorBatcher creates a new sensor batcher. A zero flushInterval
// disables time-based flushing.
func NewSensorBatcher(
	threshold int,
	flushInterval time.Duration,
	logger *zap.Logger,
) *SensorBatcher {
	if threshold < 1 {
		threshold = 1
	}
	return &SensorBatcher{
		samples:       make([]models.SensorSample, 0, threshold),
		threshold:     threshold,
		flushInterval: flushInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start registers the flush callback and starts the optional auto-flush loop
func (b *SensorBatcher) Start(onBatchReady func([]models.SensorSample)) {
	b.mu.Lock()
	b.onBatchReady = onBatchReady
	b.started = true
	b.mu.Unlock()

	if b.flushInterval > 0 {
		b.wg.Add(1)
		go b.autoFlushLoop()
	}

	b.logger.Info("Sensor batcher started",
		zap.Int("threshold", b.threshold),
		zap.Duration("flush_interval", b.flushInterval),
	)
}

// Stop stops the auto-flush loop and flushes remaining samples
func (b *SensorBatcher) Stop() {
	b.mu.Lock()
	select {
	case <-b.stopChan:
		b.mu.Unlock()
		return
	default:
		close(b.stopChan)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.Flush()

	b.logger.Info("Sensor batcher stopped")
}

// Add appends a sample and flushes synchronously when the threshold is hit
func (b *SensorBatcher) Add(sample models.SensorSample) {
	b.mu.Lock()
	b.samples = append(b.samples, sample)
	var batch []models.SensorSample
	if len(b.samples) >= b.threshold {
		batch = b.takeLocked()
	}
	onBatchReady := b.onBatchReady
	b.mu.Unlock()

	if batch != nil {
		b.logger.Debug("Batch threshold reached, flushing samples",
			zap.Int("count", len(batch)),
		)
		if onBatchReady != nil {
			onBatchReady(batch)
		}
	}
}

// Flush hands off whatever is buffered
func (b *SensorBatcher) Flush() {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	onBatchReady := b.onBatchReady
	b.mu.Unlock()

	b.logger.Debug("Manual flush triggered",
		zap.Int("count", len(batch)),
	)
	if onBatchReady != nil {
		onBatchReady(batch)
	}
}

// PendingCount returns the number of buffered samples
func (b *SensorBatcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// takeLocked swaps out the buffer. Caller must hold b.mu.
func (b *SensorBatcher) takeLocked() []models.SensorSample {
	batch := b.samples
	b.samples = make([]models.SensorSample, 0, b.threshold)
	return batch
}

func (b *SensorBatcher) autoFlushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopChan:
			return
		}
	}
}
