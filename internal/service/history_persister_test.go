package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"injest/telemetry-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryHistoryStore struct {
	mu      sync.Mutex
	saved   []models.StoredResponseTime
	pruned  map[models.MessageType]int
	failing bool
}

func newMemoryHistoryStore() *memoryHistoryStore {
	return &memoryHistoryStore{pruned: make(map[models.MessageType]int)}
}

func (s *memoryHistoryStore) SaveBatch(_ context.Context, records []models.StoredResponseTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, records...)
	return nil
}

func (s *memoryHistoryStore) Prune(_ context.Context, msgType models.MessageType, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned[msgType] = keep
	return 0, nil
}

func (s *memoryHistoryStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestPersisterFlushSavesAndPrunes(t *testing.T) {
	store := newMemoryHistoryStore()
	p := NewHistoryPersister(store, time.Hour, 10, zaptest.NewLogger(t))

	p.Record(models.TypeGPS, models.ResponseTimeRecord{Sequence: 0, Status: 200, Duration: 15 * time.Millisecond})
	p.Record(models.TypeGPS, models.ResponseTimeRecord{Sequence: 1, Status: 500, Duration: 30 * time.Millisecond})
	p.Record(models.TypeAudio, models.ResponseTimeRecord{Sequence: 0, Status: 200, Duration: time.Second})

	require.NoError(t, p.Flush(context.Background()))

	require.Len(t, store.saved, 3)
	assert.Equal(t, models.TypeGPS, store.saved[0].MessageType)
	assert.EqualValues(t, 15, store.saved[0].DurationMs)
	assert.Equal(t, 500, store.saved[1].Status)
	assert.EqualValues(t, 1000, store.saved[2].DurationMs)
	assert.Equal(t, map[models.MessageType]int{models.TypeGPS: 10, models.TypeAudio: 10}, store.pruned)

	// nothing new, nothing written
	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, store.saved, 3)
}

func TestPersisterKeepsRecordsOnFailure(t *testing.T) {
	store := newMemoryHistoryStore()
	store.failing = true
	p := NewHistoryPersister(store, time.Hour, 10, zaptest.NewLogger(t))

	p.Record(models.TypeSMS, models.ResponseTimeRecord{Sequence: 0, Status: 200})
	require.Error(t, p.Flush(context.Background()))
	assert.Empty(t, store.saved)

	p.Record(models.TypeSMS, models.ResponseTimeRecord{Sequence: 1, Status: 200})
	store.failing = false
	require.NoError(t, p.Flush(context.Background()))

	require.Len(t, store.saved, 2)
	assert.EqualValues(t, 0, store.saved[0].Sequence)
	assert.EqualValues(t, 1, store.saved[1].Sequence)
}

func TestPersisterStopFlushes(t *testing.T) {
	store := newMemoryHistoryStore()
	p := NewHistoryPersister(store, time.Hour, 10, zaptest.NewLogger(t))
	p.Start()

	p.Record(models.TypeGPS, models.ResponseTimeRecord{Status: 200})
	p.Stop()

	assert.Equal(t, 1, store.savedCount())
}

func TestPersisterPeriodicFlush(t *testing.T) {
	store := newMemoryHistoryStore()
	p := NewHistoryPersister(store, 10*time.Millisecond, 0, zaptest.NewLogger(t))
	p.Start()
	defer p.Stop()

	p.Record(models.TypeGPS, models.ResponseTimeRecord{Status: 200})
	require.Eventually(t, func() bool { return store.savedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, store.pruned)
}
