package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"injest/telemetry-agent/internal/client"
	"injest/telemetry-agent/internal/codec"
	"injest/telemetry-agent/internal/device"
	"injest/telemetry-agent/internal/handler"
	"injest/telemetry-agent/internal/models"
	"injest/telemetry-agent/internal/policy"
	"injest/telemetry-agent/internal/service"
	"injest/telemetry-agent/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type loopbackTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (l *loopbackTransport) Start()                          {}
func (l *loopbackTransport) Close()                          {}
func (l *loopbackTransport) State() models.ConnectionState   { return models.StateConnected }
func (l *loopbackTransport) AddObserver(client.Observer) int { return 1 }

func (l *loopbackTransport) Send(frame client.Frame) bool {
	if frame.OnWrite != nil {
		frame.OnWrite(time.Now())
	}
	l.mu.Lock()
	l.frames = append(l.frames, frame.Payload)
	l.mu.Unlock()
	if frame.OnWritten != nil {
		frame.OnWritten()
	}
	return true
}

func (l *loopbackTransport) last(t *testing.T) map[string]any {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.frames)
	var env map[string]any
	require.NoError(t, json.Unmarshal(l.frames[len(l.frames)-1], &env))
	return env
}

type stubHistory struct {
	records []models.StoredResponseTime
	err     error
	limit   int
}

func (s *stubHistory) Recent(_ context.Context, msgType models.MessageType, limit int) ([]models.StoredResponseTime, error) {
	s.limit = limit
	return s.records, s.err
}

type apiFixture struct {
	transport *loopbackTransport
	svc       *service.TelemetryService
	handler   http.Handler
}

func newFixture(t *testing.T, history handler.HistoryReader) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	transport := &loopbackTransport{}
	correlations := tracker.NewCorrelationTracker(50, time.Minute, time.Hour, logger)
	gate := policy.NewSendGate(policy.Settings{SendDataEver: true})
	svc := service.NewTelemetryService(transport, codec.New(7), correlations, nil, gate, logger)
	svc.Start()
	t.Cleanup(svc.Stop)

	identity := device.Identity{DeviceID: 7, MachineID: "machine-7", Name: "desk"}
	h := handler.NewTelemetryHandler(svc, history, identity, logger)
	return &apiFixture{transport: transport, svc: svc, handler: New(h, logger)}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodOptions, "/api/v1/events/gps", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodDelete, "/api/v1/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitGPS(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/events/gps", `{"latitude":1.5,"longitude":2.5,"altitude":3,"time":1000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "sent", body["result"])
	ids := body["messageIds"].([]any)
	require.Len(t, ids, 1)

	env := f.transport.last(t)
	assert.Equal(t, "gps", env["type"])
	assert.Equal(t, ids[0], env["message_id"])
	assert.EqualValues(t, 7, env["device_id"])
}

func TestSubmitRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown type", "/api/v1/events/telepathy", `{}`},
		{"gps unknown field", "/api/v1/events/gps", `{"lat":1}`},
		{"sensor without values", "/api/v1/events/sensor", `{"sensorType":"accel","values":[]}`},
		{"sensor too many values", "/api/v1/events/sensor", `{"sensorType":"accel","values":[1,2,3,4]}`},
		{"empty notification", "/api/v1/events/notification", "  "},
		{"sms not json", "/api/v1/events/sms", "hello"},
		{"image bad base64", "/api/v1/events/image", `{"data":"%%%"}`},
		{"empty audio", "/api/v1/events/audio", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitSensorAndNotification(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/events/sensor", `{"sensorType":"gyro","values":[0.5,1],"time":99}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := f.transport.last(t)["data"].(map[string]any)
	assert.Equal(t, "gyro", data["sensorType"])
	assert.EqualValues(t, 99, data["time"])
	assert.Nil(t, data["z"])

	rec = f.do(http.MethodPost, "/api/v1/events/notification", "build finished")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "build finished", f.transport.last(t)["data"])
}

func TestSubmitScreenshotRecompresses(t *testing.T) {
	f := newFixture(t, nil)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	body, err := json.Marshal(map[string]any{
		"data":       base64.StdEncoding.EncodeToString(buf.Bytes()),
		"image_hash": "stale",
		"quality":    50,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/v1/events/screenshot", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	data := f.transport.last(t)["data"].(map[string]any)
	assert.Equal(t, true, data["isScreenshot"])
	assert.NotEqual(t, "stale", data["image_hash"])
	assert.Len(t, data["image_hash"], 64)

	raw, err := base64.StdEncoding.DecodeString(data["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, raw[:2])
}

func TestSubmitRejectedByGate(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Gate().SetCategoryEnabled(models.TypeSMS, false)

	rec := f.do(http.MethodPost, "/api/v1/events/sms", `{"from":"x"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "rejected", body["result"])
	assert.Equal(t, "category disabled", body["reason"])
}

func TestReportPower(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/power", `{"isPlugged":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, f.svc.Gate().Snapshot().Plugged)

	data := f.transport.last(t)["data"].(map[string]any)
	assert.Equal(t, false, data["isPlugged"])

	rec = f.do(http.MethodPost, "/api/v1/power", `{"plugged":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPut, "/api/v1/settings", `{"onlySendWhenPlugged":true,"categories":{"gps":false}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	snapshot := f.svc.Gate().Snapshot()
	assert.True(t, snapshot.SendDataEver)
	assert.True(t, snapshot.OnlySendWhenPlugged)
	assert.False(t, f.svc.Gate().CategoryEnabled(models.TypeGPS))
	assert.True(t, f.svc.Gate().CategoryEnabled(models.TypeAudio))

	rec = f.do(http.MethodPut, "/api/v1/settings", `{"categories":{"mood":true}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/api/v1/events/gps", `{"latitude":1,"longitude":2,"altitude":0,"time":5}`)

	rec := f.do(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	dev := body["device"].(map[string]any)
	assert.Equal(t, "machine-7", dev["machine_id"])
	transport := body["transport"].(map[string]any)
	assert.Equal(t, "connected", transport["state"])
	assert.EqualValues(t, 1, transport["pendingAcks"])
}

func TestHistoryFromStore(t *testing.T) {
	store := &stubHistory{records: []models.StoredResponseTime{
		{ID: 2, MessageType: models.TypeGPS, Status: 200, DurationMs: 12},
	}}
	f := newFixture(t, store)

	rec := f.do(http.MethodGet, "/api/v1/history/gps?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, store.limit)

	records := decodeBody(t, rec)["records"].([]any)
	require.Len(t, records, 1)
	assert.EqualValues(t, 12, records[0].(map[string]any)["duration_ms"])

	rec = f.do(http.MethodGet, "/api/v1/history/gps?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.err = errors.New("locked")
	rec = f.do(http.MethodGet, "/api/v1/history/gps", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 100, store.limit)
}

func TestHistoryInMemory(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/history/audio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio", decodeBody(t, rec)["type"])

	rec = f.do(http.MethodGet, "/api/v1/history/nothing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryInMemoryNewestFirst(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodPost, "/api/v1/events/gps", `{"latitude":1,"longitude":2,"altitude":0,"time":5}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		env := f.transport.last(t)
		ack, err := json.Marshal(map[string]any{
			"message_id":   env["message_id"],
			"status":       200,
			"message_type": "gps",
		})
		require.NoError(t, err)
		f.svc.HandleInbound(ack)
	}

	rec := f.do(http.MethodGet, "/api/v1/history/gps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody(t, rec)["records"].([]any)
	require.Len(t, records, 2)
	assert.EqualValues(t, 1, records[0].(map[string]any)["sequence"])
	assert.EqualValues(t, 0, records[1].(map[string]any)["sequence"])

	rec = f.do(http.MethodGet, "/api/v1/history/gps?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records = decodeBody(t, rec)["records"].([]any)
	require.Len(t, records, 1)
	assert.EqualValues(t, 1, records[0].(map[string]any)["sequence"])
}
