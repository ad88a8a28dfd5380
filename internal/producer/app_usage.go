package producer

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"injest/telemetry-agent/internal/platform"
	"injest/telemetry-agent/internal/service"

	"go.uber.org/zap"
)

// ForegroundSource reports the focused application
type ForegroundSource interface {
	ForegroundApp() (*platform.AppInfo, error)
}

// AppUsageSink receives finished app usage spans
type AppUsageSink interface {
	SendAppUsage(payload []byte) service.Outcome
}

// AppUsage is one span of time an application held focus
type AppUsage struct {
	Application string `json:"application"`
	Title       string `json:"title,omitempty"`
	ProcessID   int    `json:"processId,omitempty"`
	StartedAt   int64  `json:"startedAt"` // Unix timestamp in milliseconds
	EndedAt     int64  `json:"endedAt"`
	DurationMs  int64  `json:"durationMs"`
}

// AppUsageMonitor polls the foreground application and emits an app_usage
// event each time focus moves away from an application
type AppUsageMonitor struct {
	source       ForegroundSource
	sink         AppUsageSink
	pollInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu       sync.Mutex
	current  *platform.AppInfo
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAppUsageMonitor creates a new app usage monitor
func NewAppUsageMonitor(source ForegroundSource, sink AppUsageSink, pollInterval time.Duration, logger *zap.Logger) *AppUsageMonitor {
	return &AppUsageMonitor{
		source:       source,
		sink:         sink,
		pollInterval: pollInterval,
		now:          time.Now,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling
func (m *AppUsageMonitor) Start() {
	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("App usage monitor started", zap.Duration("poll_interval", m.pollInterval))
}

// Stop ends polling and emits the span of the application still in focus
func (m *AppUsageMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	m.mu.Lock()
	last := m.current
	m.current = nil
	m.mu.Unlock()
	if last != nil {
		m.emit(last, m.now())
	}
	m.logger.Info("App usage monitor stopped")
}

// Current returns the application that has focus, if known
func (m *AppUsageMonitor) Current() *platform.AppInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *AppUsageMonitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	if !m.check() {
		return
	}

	for {
		select {
		case <-ticker.C:
			if !m.check() {
				return
			}
		case <-m.stopChan:
			return
		}
	}
}

func (m *AppUsageMonitor) check() bool {
	app, err := m.source.ForegroundApp()
	if errors.Is(err, platform.ErrNotSupported) {
		m.logger.Info("Foreground app not available on this platform, monitor idle")
		return false
	}
	if err != nil {
		m.logger.Debug("Failed to get foreground app", zap.Error(err))
		return true
	}

	now := m.now()
	if app.Timestamp.IsZero() {
		app.Timestamp = now
	}

	m.mu.Lock()
	previous := m.current
	if previous != nil && !appChanged(previous, app) {
		m.mu.Unlock()
		return true
	}
	m.current = app
	m.mu.Unlock()

	m.logger.Debug("Foreground app changed",
		zap.String("application", app.Application),
		zap.String("title", app.Title),
	)
	if previous != nil {
		m.emit(previous, now)
	}
	return true
}

func (m *AppUsageMonitor) emit(app *platform.AppInfo, endedAt time.Time) {
	usage := AppUsage{
		Application: app.Application,
		Title:       app.Title,
		ProcessID:   app.ProcessID,
		StartedAt:   app.Timestamp.UnixMilli(),
		EndedAt:     endedAt.UnixMilli(),
		DurationMs:  endedAt.Sub(app.Timestamp).Milliseconds(),
	}

	payload, err := json.Marshal(usage)
	if err != nil {
		m.logger.Error("Failed to encode app usage", zap.Error(err))
		return
	}
	m.sink.SendAppUsage(payload)
}

func appChanged(prev, next *platform.AppInfo) bool {
	return prev.Application != next.Application ||
		prev.Title != next.Title ||
		prev.ProcessID != next.ProcessID
}
