package collector

import (
	"sync"
	"testing"
	"time"

	"injest/telemetry-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]models.SensorSample
}

func (s *batchSink) receive(batch []models.SensorSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func accel(i int) models.SensorSample {
	return models.NewSensorSample("accelerometer", []float32{float32(i), 0, 9.8}, time.UnixMilli(int64(i)))
}

func TestExactlyThresholdFlushesOnce(t *testing.T) {
	sink := &batchSink{}
	b := NewSensorBatcher(100, 0, zaptest.NewLogger(t))
	b.Start(sink.receive)

	for i := 0; i < 100; i++ {
		b.Add(accel(i))
	}

	require.Equal(t, 1, sink.count())
	assert.Len(t, sink.batches[0], 100)
	assert.Zero(t, b.PendingCount())
	assert.Equal(t, float32(0), sink.batches[0][0].Values[0])
	assert.Equal(t, float32(99), sink.batches[0][99].Values[0])
}

func TestOneHundredFiftySamples(t *testing.T) {
	sink := &batchSink{}
	b := NewSensorBatcher(100, 0, zaptest.NewLogger(t))
	b.Start(sink.receive)

	for i := 0; i < 150; i++ {
		b.Add(accel(i))
	}

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 50, b.PendingCount())

	for i := 150; i < 200; i++ {
		b.Add(accel(i))
	}
	require.Equal(t, 2, sink.count())
	assert.Equal(t, float32(100), sink.batches[1][0].Values[0])
}

func TestStopFlushesRemainder(t *testing.T) {
	sink := &batchSink{}
	b := NewSensorBatcher(100, 0, zaptest.NewLogger(t))
	b.Start(sink.receive)

	for i := 0; i < 7; i++ {
		b.Add(accel(i))
	}
	b.Stop()
	b.Stop()

	require.Equal(t, 1, sink.count())
	assert.Len(t, sink.batches[0], 7)
}

func TestFlushIntervalFlushesPartialBatch(t *testing.T) {
	sink := &batchSink{}
	b := NewSensorBatcher(100, 10*time.Millisecond, zaptest.NewLogger(t))
	b.Start(sink.receive)
	defer b.Stop()

	b.Add(accel(1))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConcurrentAddNeverExceedsThreshold(t *testing.T) {
	sink := &batchSink{}
	b := NewSensorBatcher(10, 0, zaptest.NewLogger(t))
	b.Start(sink.receive)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add(accel(i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, sink.count())
	for _, batch := range sink.batches {
		assert.Len(t, batch, 10)
	}
}
