package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"injest/telemetry-agent/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultOutboxSize       = 256
	closeGracePeriod        = time.Second
)

// Frame is one outbound text message. OnWrite runs right before the frame
// hits the socket and OnWritten once the write succeeded. OnDrop runs if a
// queued frame is never written or the write fails.
type Frame struct {
	Payload   []byte
	OnWrite   func(at time.Time)
	OnWritten func()
	OnDrop    func()
}

// Options configure a ConnectionManager
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	OutboxSize       int
	// OnMessage receives every inbound frame after the observers
	OnMessage func(data []byte)
	Logger    *zap.Logger
}

// DialError is reported to observers when a connection attempt fails
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// session is one live socket with its own outbox
type session struct {
	conn       *websocket.Conn
	outbox     chan Frame
	flush      chan struct{} // closed by Close to write out the outbox
	writerDone chan struct{}
	done       chan struct{}
	endOnce    sync.Once
	cause      error
	connected  time.Time
}

// ConnectionManager keeps a single websocket connection to the collector
// alive and offers a non-blocking Send
type ConnectionManager struct {
	url              string
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	outboxSize       int
	onMessage        func([]byte)
	dialer           *websocket.Dialer
	logger           *zap.Logger

	mu             sync.Mutex
	state          models.ConnectionState
	current        *session
	started        bool
	shutdown       bool
	reconnectTimer *time.Timer
	reconnects     int64
	ctx            context.Context
	cancel         context.CancelFunc

	observers observerList
	wg        sync.WaitGroup
}

// NewConnectionManager creates a new connection manager. Nothing is dialed
// until Start is called.
func NewConnectionManager(opts Options) (*ConnectionManager, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse collector url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("collector url must use ws or wss, got %q", opts.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("collector url has no host: %q", opts.URL)
	}

	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		url:              opts.URL,
		reconnectDelay:   opts.ReconnectDelay,
		handshakeTimeout: opts.HandshakeTimeout,
		writeTimeout:     opts.WriteTimeout,
		outboxSize:       opts.OutboxSize,
		onMessage:        opts.OnMessage,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: opts.Logger,
		state:  models.StateDisconnected,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// URL returns the collector endpoint
func (m *ConnectionManager) URL() string {
	return m.url
}

// State returns the current connection state
func (m *ConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnects returns how many reconnect attempts have been scheduled
func (m *ConnectionManager) Reconnects() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Start begins connecting in the background and returns immediately
func (m *ConnectionManager) Start() {
	m.mu.Lock()
	if m.started || m.shutdown {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info("Connection manager started",
		zap.String("url", m.url),
		zap.Duration("reconnect_delay", m.reconnectDelay),
	)
	m.connect()
}

// Send queues a frame on the live connection. It never blocks: false means
// the frame was dropped because there is no connection or the outbox is full.
func (m *ConnectionManager) Send(frame Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != models.StateConnected || m.current == nil {
		return false
	}

	select {
	case m.current.outbox <- frame:
		return true
	default:
		m.logger.Warn("Outbox full, dropping frame",
			zap.Int("outbox_size", m.outboxSize),
		)
		return false
	}
}

// Close shuts the connection down for good. Frames already queued are written
// out within closeGracePeriod before the close handshake. Pending reconnects
// and dials are cancelled and nothing reconnects afterwards.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.shutdown = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.cancel()
	s := m.current
	if s != nil {
		m.state = models.StateClosing
	}
	m.mu.Unlock()

	if s != nil {
		close(s.flush)
		<-s.writerDone

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent shutdown")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
			m.logger.Debug("Failed to send close frame", zap.Error(err))
		}

		// wait for the collector to answer the close frame
		select {
		case <-s.done:
		case <-time.After(closeGracePeriod):
		}
		m.endSession(s, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "agent shutdown"})
	}

	m.wg.Wait()

	m.mu.Lock()
	m.state = models.StateDisconnected
	m.mu.Unlock()

	m.logger.Info("Connection manager closed")
}

// AddObserver subscribes to lifecycle events and returns a handle for
// RemoveObserver
func (m *ConnectionManager) AddObserver(o Observer) int {
	return m.observers.add(o)
}

// RemoveObserver unsubscribes the observer registered under id
func (m *ConnectionManager) RemoveObserver(id int) bool {
	return m.observers.remove(id)
}

func (m *ConnectionManager) connect() {
	m.mu.Lock()
	if m.shutdown || m.state != models.StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.state = models.StateConnecting
	m.wg.Add(1)
	m.mu.Unlock()

	go m.dial()
}

func (m *ConnectionManager) dial() {
	defer m.wg.Done()

	m.logger.Debug("Connecting to collector", zap.String("url", m.url))

	ctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout)
	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		dialErr := &DialError{URL: m.url, Err: err}
		m.mu.Lock()
		m.state = models.StateDisconnected
		shutdown := m.shutdown
		m.mu.Unlock()

		if shutdown {
			return
		}
		m.logger.Warn("Failed to connect to collector",
			zap.String("url", m.url),
			zap.Error(err),
		)
		m.observers.failure(dialErr)
		m.scheduleReconnect()
		return
	}

	s := &session{
		conn:       conn,
		outbox:     make(chan Frame, m.outboxSize),
		flush:      make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		connected:  time.Now(),
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.current = s
	m.state = models.StateConnected
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("Connection established", zap.String("url", m.url))
	m.observers.open()

	go m.writeLoop(s)
	go m.readLoop(s)
}

// endSession detaches s so no further frame can be queued on it, then
// closes the socket. The first cause wins.
func (m *ConnectionManager) endSession(s *session, cause error) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
		if m.state != models.StateClosing {
			m.state = models.StateDisconnected
		}
	}
	m.mu.Unlock()

	s.endOnce.Do(func() {
		s.cause = cause
		close(s.done)
		s.conn.Close()
	})
}

func (m *ConnectionManager) writeLoop(s *session) {
	defer m.wg.Done()
	defer close(s.writerDone)

	for {
		select {
		case frame := <-s.outbox:
			if !m.writeOrEnd(s, frame) {
				return
			}
		case <-s.flush:
			m.flushOutbox(s)
			return
		case <-s.done:
			m.drain(s)
			return
		}
	}
}

// writeOrEnd writes one frame and tears the session down if that fails
func (m *ConnectionManager) writeOrEnd(s *session, frame Frame) bool {
	if err := m.write(s, frame); err != nil {
		m.logger.Error("Failed to write frame",
			zap.Int("bytes", len(frame.Payload)),
			zap.Error(err),
		)
		m.endSession(s, err)
		m.drain(s)
		return false
	}
	return true
}

// flushOutbox writes every frame still queued when Close was called. Send
// refuses new frames by then, so the outbox only shrinks.
func (m *ConnectionManager) flushOutbox(s *session) {
	deadline := time.Now().Add(closeGracePeriod)
	written := 0
	for {
		select {
		case frame := <-s.outbox:
			if time.Now().After(deadline) {
				if frame.OnDrop != nil {
					frame.OnDrop()
				}
				m.drain(s)
				return
			}
			if !m.writeOrEnd(s, frame) {
				return
			}
			written++
		default:
			if written > 0 {
				m.logger.Debug("Flushed queued frames before close", zap.Int("count", written))
			}
			return
		}
	}
}

func (m *ConnectionManager) write(s *session, frame Frame) error {
	if frame.OnWrite != nil {
		frame.OnWrite(time.Now())
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
		if frame.OnDrop != nil {
			frame.OnDrop()
		}
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame.Payload); err != nil {
		if frame.OnDrop != nil {
			frame.OnDrop()
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	if frame.OnWritten != nil {
		frame.OnWritten()
	}
	return nil
}

// drain discards frames still queued on a dead or closing session
func (m *ConnectionManager) drain(s *session) {
	dropped := 0
	for {
		select {
		case frame := <-s.outbox:
			if frame.OnDrop != nil {
				frame.OnDrop()
			}
			dropped++
		default:
			if dropped > 0 {
				m.logger.Warn("Dropped queued frames",
					zap.Int("count", dropped),
				)
			}
			return
		}
	}
}

func (m *ConnectionManager) readLoop(s *session) {
	defer m.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			m.endSession(s, err)
			break
		}
		m.observers.message(data)
		if m.onMessage != nil {
			m.onMessage(data)
		}
	}

	// 1006 is gorilla's stand-in for a socket that died without a close frame
	var closeErr *websocket.CloseError
	if errors.As(s.cause, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		m.logger.Info("Connection closed",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Text),
			zap.Duration("uptime", time.Since(s.connected)),
		)
		m.observers.close(closeErr.Code, closeErr.Text)
	} else {
		m.logger.Warn("Connection lost",
			zap.Error(s.cause),
			zap.Duration("uptime", time.Since(s.connected)),
		)
		m.observers.failure(s.cause)
	}

	m.scheduleReconnect()
}

// scheduleReconnect arms a single fixed-delay retry unless shutting down
func (m *ConnectionManager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown || m.reconnectTimer != nil {
		return
	}
	m.reconnects++
	m.reconnectTimer = time.AfterFunc(m.reconnectDelay, m.connect)

	m.logger.Info("Reconnect scheduled",
		zap.Duration("delay", m.reconnectDelay),
		zap.Int64("attempt", m.reconnects),
	)
}

// CollectorURL builds ws://host[:port]/path. A zero port is left out.
func CollectorURL(host string, port int, path string) string {
	return buildURL("ws", host, port, path)
}

func buildURL(scheme, host string, port int, path string) string {
	if port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path}
	return u.String()
}
