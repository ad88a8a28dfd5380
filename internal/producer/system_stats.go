package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"injest/telemetry-agent/internal/service"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const (
	cpuSampleWindow = time.Second
	collectTimeout  = 10 * time.Second
	bytesPerMB      = 1024 * 1024
	bytesPerGB      = 1024 * 1024 * 1024
)

// SystemStatsSink receives encoded system_stats payloads
type SystemStatsSink interface {
	SendSystemStats(payload []byte) service.Outcome
}

// SystemStats is one snapshot of host resource usage
type SystemStats struct {
	Timestamp     int64   `json:"timestamp"` // Unix timestamp in milliseconds
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	UptimeSeconds uint64  `json:"uptimeSeconds"`
	CPUPercent    float64 `json:"cpuPercent"`
	CPUCores      int     `json:"cpuCores"`
	MemUsedMB     float64 `json:"memUsedMb"`
	MemTotalMB    float64 `json:"memTotalMb"`
	MemPercent    float64 `json:"memPercent"`
	DiskUsedGB    float64 `json:"diskUsedGb"`
	DiskTotalGB   float64 `json:"diskTotalGb"`
	DiskPercent   float64 `json:"diskPercent"`
}

// CollectSystemStats reads CPU, memory, disk and host counters. A failing
// source leaves its fields zero; the joined error names every failure.
func CollectSystemStats(ctx context.Context, diskPath string) (*SystemStats, error) {
	stats := &SystemStats{Timestamp: time.Now().UnixMilli()}
	var errs []error

	if percentages, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu percent: %w", err))
	} else if len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("cpu count: %w", err))
	} else {
		stats.CPUCores = cores
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("virtual memory: %w", err))
	} else {
		// page cache counts as available
		used := vmem.Total - vmem.Available
		stats.MemUsedMB = float64(used) / bytesPerMB
		stats.MemTotalMB = float64(vmem.Total) / bytesPerMB
		if vmem.Total > 0 {
			stats.MemPercent = float64(used) / float64(vmem.Total) * 100
		}
	}

	if usage, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk usage %s: %w", diskPath, err))
	} else {
		stats.DiskUsedGB = float64(usage.Used) / bytesPerGB
		stats.DiskTotalGB = float64(usage.Total) / bytesPerGB
		stats.DiskPercent = usage.UsedPercent
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	} else {
		stats.Hostname = info.Hostname
		stats.OS = info.OS
		stats.Platform = info.Platform
		stats.UptimeSeconds = info.Uptime
	}

	return stats, errors.Join(errs...)
}

// SystemStatsProducer periodically samples the host and sends a
// system_stats event
type SystemStatsProducer struct {
	sink     SystemStatsSink
	interval time.Duration
	diskPath string
	collect  func(ctx context.Context, diskPath string) (*SystemStats, error)
	logger   *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSystemStatsProducer creates a new system stats producer
func NewSystemStatsProducer(sink SystemStatsSink, interval time.Duration, diskPath string, logger *zap.Logger) *SystemStatsProducer {
	return &SystemStatsProducer{
		sink:     sink,
		interval: interval,
		diskPath: diskPath,
		collect:  CollectSystemStats,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins sampling
func (p *SystemStatsProducer) Start() {
	p.wg.Add(1)
	go p.run()

	p.logger.Info("System stats producer started",
		zap.Duration("interval", p.interval),
		zap.String("disk_path", p.diskPath),
	)
}

// Stop ends sampling and waits for an in-flight sample
func (p *SystemStatsProducer) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
	p.logger.Info("System stats producer stopped")
}

func (p *SystemStatsProducer) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sample()

	for {
		select {
		case <-ticker.C:
			p.sample()
		case <-p.stopChan:
			return
		}
	}
}

func (p *SystemStatsProducer) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	stats, err := p.collect(ctx, p.diskPath)
	if err != nil {
		p.logger.Warn("Some system stats could not be read", zap.Error(err))
	}
	if stats == nil {
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		p.logger.Error("Failed to encode system stats", zap.Error(err))
		return
	}

	outcome := p.sink.SendSystemStats(payload)
	p.logger.Debug("System stats sampled",
		zap.Float64("cpu_percent", stats.CPUPercent),
		zap.Float64("mem_percent", stats.MemPercent),
		zap.Stringer("result", outcome.Result),
	)
}
