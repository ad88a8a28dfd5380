package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"injest/telemetry-agent/internal/codec"
	"injest/telemetry-agent/internal/device"
	"injest/telemetry-agent/internal/media"
	"injest/telemetry-agent/internal/models"
	"injest/telemetry-agent/internal/service"

	"go.uber.org/zap"
)

const (
	maxBodyBytes        = 16 << 20
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryReader reads persisted response times. Recent returns newest first.
type HistoryReader interface {
	Recent(ctx context.Context, msgType models.MessageType, limit int) ([]models.StoredResponseTime, error)
}

// TelemetryHandler exposes the telemetry service over local HTTP
type TelemetryHandler struct {
	service  *service.TelemetryService
	history  HistoryReader
	identity device.Identity
	logger   *zap.Logger
}

// NewTelemetryHandler creates a new telemetry handler. history may be nil,
// in which case the in-memory ring is served.
func NewTelemetryHandler(svc *service.TelemetryService, history HistoryReader, identity device.Identity, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		service:  svc,
		history:  history,
		identity: identity,
		logger:   logger,
	}
}

func (h *TelemetryHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (h *TelemetryHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device":    h.identity,
		"transport": h.service.GetStatus(),
	})
}

// History serves response times for one category, newest first, from the
// store when persistence is on and from the in-memory ring otherwise
func (h *TelemetryHandler) History(w http.ResponseWriter, r *http.Request) {
	msgType, err := models.ParseMessageType(r.PathValue("type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if h.history == nil {
		records := newestFirst(h.service.History(msgType), limit)
		writeJSON(w, http.StatusOK, map[string]any{"type": msgType, "records": records})
		return
	}

	records, err := h.history.Recent(r.Context(), msgType, limit)
	if err != nil {
		h.logger.Error("Failed to read response time history",
			zap.String("message_type", string(msgType)),
			zap.Error(err),
		)
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": msgType, "records": records})
}

// newestFirst returns the last limit records in reverse, matching the order
// HistoryReader.Recent uses
func newestFirst(records []models.ResponseTimeRecord, limit int) []models.ResponseTimeRecord {
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]models.ResponseTimeRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out
}

// SubmitEvent accepts one event of the category named in the path
func (h *TelemetryHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	msgType, err := models.ParseMessageType(r.PathValue("type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.dispatch(msgType, body)
	if err != nil {
		h.logger.Warn("Rejected malformed event",
			zap.String("message_type", string(msgType)),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeOutcome(w, outcome)
}

// ReportPower handles {"isPlugged": bool}
func (h *TelemetryHandler) ReportPower(w http.ResponseWriter, r *http.Request) {
	var req models.PowerConnectionData
	if err := decodeStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeOutcome(w, h.service.ReportPower(req.IsPlugged))
}

// SettingsRequest changes gate flags; absent fields are left alone
type SettingsRequest struct {
	SendDataEver        *bool           `json:"sendDataEver"`
	OnlySendWhenPlugged *bool           `json:"onlySendWhenPlugged"`
	Categories          map[string]bool `json:"categories"`
}

func (h *TelemetryHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	categories := make(map[models.MessageType]bool, len(req.Categories))
	for name, enabled := range req.Categories {
		msgType, err := models.ParseMessageType(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		categories[msgType] = enabled
	}

	gate := h.service.Gate()
	if req.SendDataEver != nil {
		gate.SetSendDataEver(*req.SendDataEver)
	}
	if req.OnlySendWhenPlugged != nil {
		gate.SetOnlySendWhenPlugged(*req.OnlySendWhenPlugged)
	}
	for msgType, enabled := range categories {
		gate.SetCategoryEnabled(msgType, enabled)
	}

	snapshot := gate.Snapshot()
	h.logger.Info("Send settings updated",
		zap.Bool("send_data_ever", snapshot.SendDataEver),
		zap.Bool("only_send_when_plugged", snapshot.OnlySendWhenPlugged),
		zap.Int("categories_changed", len(categories)),
	)
	writeJSON(w, http.StatusOK, snapshot)
}

// sensorRequest is the HTTP shape of one sensor reading
type sensorRequest struct {
	SensorType string    `json:"sensorType"`
	Values     []float32 `json:"values"`
	Time       int64     `json:"time"`
}

// imageRequest carries base64 image bytes and capture flags. A positive
// quality re-encodes the image as JPEG before sending.
type imageRequest struct {
	Data          string `json:"data"`
	IsScreenshot  bool   `json:"isScreenshot"`
	IsGenerated   bool   `json:"isGenerated"`
	IsManual      bool   `json:"isManual"`
	IsFrontCamera bool   `json:"isFrontCamera"`
	IsRearCamera  bool   `json:"isRearCamera"`
	ImageHash     string `json:"image_hash"`
	ImageID       string `json:"image_id"`
	Quality       int    `json:"quality"`
}

func (h *TelemetryHandler) dispatch(msgType models.MessageType, body []byte) (service.Outcome, error) {
	switch msgType {
	case models.TypeGPS:
		var gps models.GPSData
		if err := decodeStrict(bytes.NewReader(body), &gps); err != nil {
			return service.Outcome{}, fmt.Errorf("invalid gps body: %w", err)
		}
		if gps.Time == 0 {
			gps.Time = time.Now().UnixMilli()
		}
		return h.service.SendGPS(gps), nil

	case models.TypeSensor:
		var req sensorRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return service.Outcome{}, fmt.Errorf("invalid sensor body: %w", err)
		}
		if req.SensorType == "" || len(req.Values) == 0 || len(req.Values) > 3 {
			return service.Outcome{}, errors.New("sensor body needs sensorType and 1 to 3 values")
		}
		at := time.Now()
		if req.Time > 0 {
			at = time.UnixMilli(req.Time)
		}
		return h.service.SendSensor(models.NewSensorSample(req.SensorType, req.Values, at)), nil

	case models.TypeAudio:
		compressed, err := media.CompressAudio(body)
		if err != nil {
			return service.Outcome{}, err
		}
		return h.service.SendAudio(compressed), nil

	case models.TypeScreenshot, models.TypeImage, models.TypeManualPhoto:
		capture, err := decodeImage(body)
		if err != nil {
			return service.Outcome{}, err
		}
		switch msgType {
		case models.TypeScreenshot:
			return h.service.SendScreenshot(capture), nil
		case models.TypeManualPhoto:
			return h.service.SendManualPhoto(capture), nil
		default:
			return h.service.SendImage(capture), nil
		}

	case models.TypeNotification:
		text := strings.TrimSpace(string(body))
		if text == "" {
			return service.Outcome{}, errors.New("notification body is empty")
		}
		return h.service.SendNotification(text), nil

	case models.TypePowerConnection:
		var req models.PowerConnectionData
		if err := decodeStrict(bytes.NewReader(body), &req); err != nil {
			return service.Outcome{}, fmt.Errorf("invalid power body: %w", err)
		}
		return h.service.ReportPower(req.IsPlugged), nil

	case models.TypeSMS, models.TypeSystemStats, models.TypeAppUsage:
		if !json.Valid(body) {
			return service.Outcome{}, fmt.Errorf("%s body must be JSON", msgType)
		}
		switch msgType {
		case models.TypeSMS:
			return h.service.SendSMS(body), nil
		case models.TypeSystemStats:
			return h.service.SendSystemStats(body), nil
		default:
			return h.service.SendAppUsage(body), nil
		}
	}

	return service.Outcome{}, fmt.Errorf("unsupported message type: %s", msgType)
}

func decodeImage(body []byte) (codec.ImageCapture, error) {
	var req imageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return codec.ImageCapture{}, fmt.Errorf("invalid image body: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return codec.ImageCapture{}, fmt.Errorf("invalid image data: %w", err)
	}
	if len(raw) == 0 {
		return codec.ImageCapture{}, errors.New("image data is empty")
	}

	if req.Quality > 0 {
		raw, err = media.CompressImage(raw, req.Quality)
		if err != nil {
			return codec.ImageCapture{}, err
		}
		// the supplied digest described the original bytes
		req.ImageHash = ""
	}

	return codec.ImageCapture{
		Compressed:    raw,
		IsScreenshot:  req.IsScreenshot,
		IsGenerated:   req.IsGenerated,
		IsManual:      req.IsManual,
		IsFrontCamera: req.IsFrontCamera,
		IsRearCamera:  req.IsRearCamera,
		Hash:          req.ImageHash,
		ID:            req.ImageID,
	}, nil
}

func decodeStrict(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeOutcome(w http.ResponseWriter, outcome service.Outcome) {
	status := http.StatusAccepted
	if !outcome.Accepted() {
		status = http.StatusConflict
	}
	writeJSON(w, status, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
