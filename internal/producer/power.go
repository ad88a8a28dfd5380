package producer

import (
	"errors"
	"sync"
	"time"

	"injest/telemetry-agent/internal/platform"
	"injest/telemetry-agent/internal/service"

	"go.uber.org/zap"
)

// PowerSource reports whether external power is connected
type PowerSource interface {
	PowerStatus() (*platform.PowerStatus, error)
}

// PowerSink receives plugged-state changes
type PowerSink interface {
	ReportPower(plugged bool) service.Outcome
}

// PowerMonitor polls the power source and reports every change. The first
// reading is always reported so the send gate starts from the real state.
type PowerMonitor struct {
	source       PowerSource
	sink         PowerSink
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	known    bool
	plugged  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPowerMonitor creates a new power monitor
func NewPowerMonitor(source PowerSource, sink PowerSink, pollInterval time.Duration, logger *zap.Logger) *PowerMonitor {
	return &PowerMonitor{
		source:       source,
		sink:         sink,
		pollInterval: pollInterval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling
func (m *PowerMonitor) Start() {
	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("Power monitor started", zap.Duration("poll_interval", m.pollInterval))
}

// Stop ends polling
func (m *PowerMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
	m.logger.Info("Power monitor stopped")
}

// Plugged returns the last reading and whether one has been taken
func (m *PowerMonitor) Plugged() (plugged, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plugged, m.known
}

func (m *PowerMonitor) pollLoop() {
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

// check returns false once the platform turns out not to support power queries
func (m *PowerMonitor) check() bool {
	status, err := m.source.PowerStatus()
	if errors.Is(err, platform.ErrNotSupported) {
		m.logger.Info("Power status not supported on this platform, monitor idle")
		return false
	}
	if err != nil {
		m.logger.Error("Failed to read power status", zap.Error(err))
		return true
	}

	m.mu.Lock()
	changed := !m.known || m.plugged != status.Plugged
	m.known = true
	m.plugged = status.Plugged
	m.mu.Unlock()

	if !changed {
		return true
	}

	m.logger.Info("Power source changed",
		zap.Bool("plugged", status.Plugged),
		zap.Int("battery_percent", status.BatteryPercent),
	)
	m.sink.ReportPower(status.Plugged)
	return true
}
