package service

import (
	"sync/atomic"
	"time"

	"injest/telemetry-agent/internal/client"
	"injest/telemetry-agent/internal/codec"
	"injest/telemetry-agent/internal/collector"
	"injest/telemetry-agent/internal/media"
	"injest/telemetry-agent/internal/models"
	"injest/telemetry-agent/internal/policy"
	"injest/telemetry-agent/internal/tracker"

	"go.uber.org/zap"
)

// Transport is the connection the service writes frames to
type Transport interface {
	Start()
	Send(frame client.Frame) bool
	State() models.ConnectionState
	AddObserver(o client.Observer) int
	Close()
}

// SendResult is what happened to one send request
type SendResult int

const (
	ResultSent SendResult = iota
	ResultBatched
	ResultRejected
	ResultDropped
)

func (r SendResult) String() string {
	switch r {
	case ResultSent:
		return "sent"
	case ResultBatched:
		return "batched"
	case ResultRejected:
		return "rejected"
	default:
		return "dropped"
	}
}

func (r SendResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Outcome describes a send request. MessageIDs is set when a frame was queued.
type Outcome struct {
	Result     SendResult `json:"result"`
	Reason     string     `json:"reason,omitempty"`
	MessageIDs []string   `json:"messageIds,omitempty"`
}

// Accepted reports whether the event left the producer's hands
func (o Outcome) Accepted() bool {
	return o.Result == ResultSent || o.Result == ResultBatched
}

// TelemetryService is the single transport shared by every producer. It
// applies the send gate, batches sensor samples, frames envelopes and
// correlates acknowledgements.
type TelemetryService struct {
	transport    Transport
	codec        *codec.Codec
	correlations *tracker.CorrelationTracker
	batcher      *collector.SensorBatcher
	gate         *policy.SendGate
	stats        *TransferStats
	logger       *zap.Logger

	stopped atomic.Bool
}

// NewTelemetryService creates a new telemetry service. A nil batcher sends
// every sensor sample on its own.
func NewTelemetryService(
	transport Transport,
	envelopeCodec *codec.Codec,
	correlations *tracker.CorrelationTracker,
	batcher *collector.SensorBatcher,
	gate *policy.SendGate,
	logger *zap.Logger,
) *TelemetryService {
	s := &TelemetryService{
		transport:    transport,
		codec:        envelopeCodec,
		correlations: correlations,
		batcher:      batcher,
		gate:         gate,
		stats:        NewTransferStats(),
		logger:       logger,
	}
	transport.AddObserver(client.ObserverFuncs{Message: s.HandleInbound})
	return s
}

// Start begins the tracker sweep, the batcher and the connection
func (s *TelemetryService) Start() {
	s.logger.Info("Starting telemetry service", zap.Int("device_id", s.codec.DeviceID()))

	s.correlations.Start()
	if s.batcher != nil {
		s.batcher.Start(s.onBatchReady)
	}
	s.transport.Start()

	s.logger.Info("Telemetry service started")
}

// Stop flushes buffered samples, closes the connection and stops the tracker
func (s *TelemetryService) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Stopping telemetry service")

	if s.batcher != nil {
		s.batcher.Stop()
	}
	s.transport.Close()
	s.correlations.Stop()

	s.logger.Info("Telemetry service stopped")
}

// Gate exposes the send policy for settings updates
func (s *TelemetryService) Gate() *policy.SendGate {
	return s.gate
}

// SetConnectivity records the latest heartbeat result
func (s *TelemetryService) SetConnectivity(up bool) {
	s.gate.SetConnected(up)
}

func (s *TelemetryService) SendAudio(compressed []byte) Outcome {
	return s.send(models.TypeAudio, codec.Audio(compressed))
}

func (s *TelemetryService) SendGPS(gps models.GPSData) Outcome {
	return s.send(models.TypeGPS, gps)
}

// SendSensor queues a sample for batching, or sends it at once when
// batching is off
func (s *TelemetryService) SendSensor(sample models.SensorSample) Outcome {
	if s.batcher == nil {
		return s.send(models.TypeSensor, codec.Sensor(sample))
	}
	if o, ok := s.admit(models.TypeSensor); !ok {
		return o
	}
	s.batcher.Add(sample)
	return Outcome{Result: ResultBatched}
}

func (s *TelemetryService) SendScreenshot(capture codec.ImageCapture) Outcome {
	capture.IsScreenshot = true
	return s.sendImage(models.TypeScreenshot, capture)
}

func (s *TelemetryService) SendImage(capture codec.ImageCapture) Outcome {
	return s.sendImage(models.TypeImage, capture)
}

func (s *TelemetryService) SendManualPhoto(capture codec.ImageCapture) Outcome {
	capture.IsManual = true
	return s.sendImage(models.TypeManualPhoto, capture)
}

func (s *TelemetryService) SendNotification(text string) Outcome {
	return s.send(models.TypeNotification, codec.Text(text))
}

func (s *TelemetryService) SendSMS(payload []byte) Outcome {
	return s.send(models.TypeSMS, codec.RawJSON(payload))
}

func (s *TelemetryService) SendSystemStats(payload []byte) Outcome {
	return s.send(models.TypeSystemStats, codec.RawJSON(payload))
}

func (s *TelemetryService) SendAppUsage(payload []byte) Outcome {
	return s.send(models.TypeAppUsage, codec.RawJSON(payload))
}

// ReportPower updates the plugged flag and emits a power_connection event
func (s *TelemetryService) ReportPower(plugged bool) Outcome {
	s.gate.SetPlugged(plugged)
	return s.send(models.TypePowerConnection, codec.Power(plugged))
}

// HandleInbound correlates acknowledgements; anything else is ignored
func (s *TelemetryService) HandleInbound(data []byte) {
	receivedAt := time.Now()

	ack, ok := codec.DecodeAck(data)
	if !ok {
		s.logger.Debug("Ignoring inbound frame that is not an acknowledgement",
			zap.Int("bytes", len(data)),
		)
		return
	}
	s.correlations.Acknowledge(ack, receivedAt)
}

// Status is a point-in-time view for diagnostics
type Status struct {
	State        models.ConnectionState                             `json:"state"`
	Gate         policy.Snapshot                                    `json:"gate"`
	PendingAcks  int                                                `json:"pendingAcks"`
	LostAcks     int64                                              `json:"lostAcks"`
	BatchPending int                                                `json:"batchPending"`
	StartedAt    time.Time                                          `json:"startedAt"`
	Transfer     map[models.MessageType]TypeStats                   `json:"transfer"`
	Histories    map[models.MessageType][]models.ResponseTimeRecord `json:"histories"`
}

// GetStatus returns the current transport status
func (s *TelemetryService) GetStatus() Status {
	status := Status{
		State:       s.transport.State(),
		Gate:        s.gate.Snapshot(),
		PendingAcks: s.correlations.PendingCount(),
		LostAcks:    s.correlations.LostCount(),
		StartedAt:   s.stats.StartedAt(),
		Transfer:    s.stats.Snapshot(),
		Histories:   s.correlations.Histories(),
	}
	if s.batcher != nil {
		status.BatchPending = s.batcher.PendingCount()
	}
	return status
}

// History returns the in-memory response times of one type
func (s *TelemetryService) History(msgType models.MessageType) []models.ResponseTimeRecord {
	return s.correlations.History(msgType)
}

func (s *TelemetryService) sendImage(msgType models.MessageType, capture codec.ImageCapture) Outcome {
	if capture.Hash == "" {
		capture.Hash = media.Digest(capture.Compressed)
	}
	return s.send(msgType, codec.Image(capture))
}

// admit applies the stop flag and the send gate
func (s *TelemetryService) admit(msgType models.MessageType) (Outcome, bool) {
	if s.stopped.Load() {
		return Outcome{Result: ResultDropped, Reason: "service stopped"}, false
	}
	if decision := s.gate.EvaluateCategory(msgType); !decision.Allowed() {
		s.stats.RecordRejected(msgType)
		s.logger.Debug("Send rejected by policy",
			zap.String("message_type", string(msgType)),
			zap.String("reason", decision.String()),
		)
		return Outcome{Result: ResultRejected, Reason: decision.String()}, false
	}
	return Outcome{}, true
}

func (s *TelemetryService) send(msgType models.MessageType, data any) Outcome {
	if o, ok := s.admit(msgType); !ok {
		return o
	}

	env := s.codec.NewEnvelope(msgType, data)
	payload, err := s.codec.Encode(env)
	if err != nil {
		s.logger.Error("Failed to encode envelope",
			zap.String("message_type", string(msgType)),
			zap.Error(err),
		)
		s.stats.RecordDropped(msgType, 1)
		return Outcome{Result: ResultDropped, Reason: "encode failed"}
	}

	return s.transmit(msgType, []string{env.MessageID}, payload)
}

// transmit queues one frame. Ids become pending right before the write so
// a fast ack always finds them; the frame counts as sent only after the
// write succeeded.
func (s *TelemetryService) transmit(msgType models.MessageType, ids []string, payload []byte) Outcome {
	frame := client.Frame{
		Payload: payload,
		OnWrite: func(at time.Time) {
			s.correlations.Track(ids, msgType, payload, at)
		},
		OnWritten: func() {
			s.stats.RecordSent(msgType, len(payload), len(ids))
		},
		OnDrop: func() {
			s.correlations.Forget(ids)
			s.stats.RecordDropped(msgType, len(ids))
		},
	}

	if !s.transport.Send(frame) {
		s.stats.RecordDropped(msgType, len(ids))
		s.logger.Debug("Frame dropped, connection unavailable",
			zap.String("message_type", string(msgType)),
			zap.Int("entries", len(ids)),
		)
		return Outcome{Result: ResultDropped, Reason: "connection unavailable"}
	}
	return Outcome{Result: ResultSent, MessageIDs: ids}
}

// onBatchReady frames a full sensor batch as one JSON array. The gate is
// checked again since it may have closed while samples accumulated.
func (s *TelemetryService) onBatchReady(samples []models.SensorSample) {
	if decision := s.gate.EvaluateCategory(models.TypeSensor); !decision.Allowed() {
		s.stats.RecordRejected(models.TypeSensor)
		s.logger.Info("Discarding sensor batch",
			zap.Int("count", len(samples)),
			zap.String("reason", decision.String()),
		)
		return
	}

	envs := make([]models.Envelope, len(samples))
	ids := make([]string, len(samples))
	for i, sample := range samples {
		envs[i] = s.codec.NewEnvelope(models.TypeSensor, codec.Sensor(sample))
		ids[i] = envs[i].MessageID
	}

	payload, err := s.codec.EncodeBatch(envs)
	if err != nil {
		s.logger.Error("Failed to encode sensor batch",
			zap.Int("count", len(samples)),
			zap.Error(err),
		)
		return
	}

	if o := s.transmit(models.TypeSensor, ids, payload); o.Result == ResultSent {
		s.logger.Debug("Sensor batch queued",
			zap.Int("count", len(samples)),
			zap.Int("bytes", len(payload)),
		)
	}
}
