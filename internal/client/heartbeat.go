package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatURL builds http://host[:port]/path for the collector heartbeat
func HeartbeatURL(host string, port int, path string) string {
	return buildURL("http", host, port, path)
}

// HeartbeatChecker polls the collector's heartbeat endpoint and reports
// whether it is reachable
type HeartbeatChecker struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	lastUp   *bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatChecker creates a new heartbeat checker
func NewHeartbeatChecker(url string, interval, timeout time.Duration, logger *zap.Logger) *HeartbeatChecker {
	return &HeartbeatChecker{
		url:      url,
		interval: interval,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Check performs a single heartbeat request
func (h *HeartbeatChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err == nil && status.Status != "" {
		h.logger.Debug("Heartbeat ok", zap.String("status", status.Status))
	}

	return nil
}

// Start checks immediately and then every interval, passing each result to
// onResult
func (h *HeartbeatChecker) Start(onResult func(up bool)) {
	h.wg.Add(1)
	go h.loop(onResult)

	h.logger.Info("Heartbeat checker started",
		zap.String("url", h.url),
		zap.Duration("interval", h.interval),
	)
}

// Stop ends the polling loop
func (h *HeartbeatChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()
	h.logger.Info("Heartbeat checker stopped")
}

func (h *HeartbeatChecker) loop(onResult func(bool)) {
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	h.tick(ctx, onResult)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tick(ctx, onResult)
		case <-h.stopChan:
			return
		}
	}
}

func (h *HeartbeatChecker) tick(ctx context.Context, onResult func(bool)) {
	err := h.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	up := err == nil

	h.mu.Lock()
	changed := h.lastUp == nil || *h.lastUp != up
	h.lastUp = &up
	h.mu.Unlock()

	if changed {
		if up {
			h.logger.Info("Collector reachable", zap.String("url", h.url))
		} else {
			h.logger.Warn("Collector unreachable",
				zap.String("url", h.url),
				zap.Error(err),
			)
		}
	}

	if onResult != nil {
		onResult(up)
	}
}
