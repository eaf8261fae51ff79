package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/logger"
	"github.com/danghamo/techtrack/pkg/ws"
)

// stubRecorder records samples and serves a fixed directory
type stubRecorder struct {
	mu        sync.Mutex
	samples   []technician.LocationSample
	origins   []string
	directory []*technician.Technician
	dirErr    error
	recordErr error
}

func (s *stubRecorder) RecordLocation(_ context.Context, sample technician.LocationSample, originConnID string) (*cqrsevents.LocationUpdatedEvent, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	s.origins = append(s.origins, originConnID)
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	return &cqrsevents.LocationUpdatedEvent{TechnicianID: int64(sample.TechnicianID)}, nil
}

func (s *stubRecorder) Directory(context.Context) ([]*technician.Technician, error) {
	return s.directory, s.dirErr
}

func (s *stubRecorder) recorded() []technician.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]technician.LocationSample(nil), s.samples...)
}

type socketFixture struct {
	handler  *LocationSocketHandler
	hub      *ws.Hub
	recorder *stubRecorder
	server   *httptest.Server
}

func newSocketFixture(t *testing.T, mutate func(*SocketConfig)) *socketFixture {
	t.Helper()

	cfg := SocketConfig{
		Pump:       ws.DefaultPumpConfig(),
		SendBuffer: 16,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	hub := ws.NewHub(logger.NewNop())
	recorder := &stubRecorder{}
	handler := NewLocationSocketHandler(logger.NewNop(), hub, recorder, cfg)
	handler.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)

	return &socketFixture{handler: handler, hub: hub, recorder: recorder, server: server}
}

func (f *socketFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(message)))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func expectError(t *testing.T, conn *websocket.Conn, contains string) {
	t.Helper()

	frame := readFrame(t, conn)
	require.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["data"], contains)
}

func TestLocationSocket_ProtocolErrors(t *testing.T) {
	f := newSocketFixture(t, nil)
	conn := f.dial(t)

	tests := []struct {
		name     string
		message  string
		contains string
	}{
		{"malformed json", `{"type":`, ""},
		{"missing type", `{"userId":1}`, ""},
		{"unknown type", `{"type":"teleport","userId":1}`, "teleport"},
		{"initial data without identity", `{"type":"initial-data"}`, "userId is required"},
		{"update without identity", `{"type":"location-update","data":{"latitude":1,"longitude":2}}`, "userId is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeJSON(t, conn, tt.message)
			expectError(t, conn, tt.contains)
		})
	}

	assert.Empty(t, f.recorder.recorded())
	assert.Zero(t, f.hub.Count())
}

func TestLocationSocket_OversizedMessage(t *testing.T) {
	f := newSocketFixture(t, func(cfg *SocketConfig) {
		cfg.Pump.MaxMessageBytes = 128
	})
	conn := f.dial(t)

	padding := strings.Repeat("x", 512)
	writeJSON(t, conn, `{"type":"location-update","userId":5,"data":{"latitude":1,"longitude":2,"note":"`+padding+`"}}`)
	expectError(t, conn, "exceeds 128 bytes")
	assert.Empty(t, f.recorder.recorded())

	// The connection is still usable afterwards
	writeJSON(t, conn, `{"type":"location-update","userId":5,"data":{"latitude":1,"longitude":2}}`)
	require.Eventually(t, func() bool { return len(f.recorder.recorded()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Frames past the transport ceiling close the connection
	writeJSON(t, conn, strings.Repeat("y", 128*16+1))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "unexpected error: %v", err)
}

func TestLocationSocket_InitialData(t *testing.T) {
	f := newSocketFixture(t, nil)
	bob, err := technician.NewTechnician(2, "T-002", "bob", "Bob", "Ray")
	require.NoError(t, err)
	f.recorder.directory = []*technician.Technician{bob}

	conn := f.dial(t)
	writeJSON(t, conn, `{"type":"initial-data","userId":9}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "initial-data", frame["type"])
	data := frame["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "bob", data[0].(map[string]any)["username"])

	assert.NotNil(t, f.hub.Lookup(9))

	// Identified sessions may ask again without userId
	writeJSON(t, conn, `{"type":"initial-data"}`)
	assert.Equal(t, "initial-data", readFrame(t, conn)["type"])
}

func TestLocationSocket_InitialDataStoreFailure(t *testing.T) {
	f := newSocketFixture(t, nil)
	f.recorder.dirErr = errors.New("redis: connection refused")

	conn := f.dial(t)
	writeJSON(t, conn, `{"type":"initial-data","userId":1}`)
	expectError(t, conn, "snapshot unavailable")
}

func TestLocationSocket_LocationUpdate(t *testing.T) {
	f := newSocketFixture(t, nil)
	conn := f.dial(t)

	writeJSON(t, conn, `{"type":"location-update","userId":3,"data":{"latitude":43.65,"longitude":-79.38,"timestamp":"2024-01-01T00:00:00Z"}}`)
	writeJSON(t, conn, `{"type":"location-update","data":{"technicianId":3,"latitude":43.66,"longitude":-79.39,"timestamp":"garbage"}}`)
	writeJSON(t, conn, `{"type":"location-update","data":{"latitude":43.67,"longitude":-79.40}}`)

	require.Eventually(t, func() bool { return len(f.recorder.recorded()) == 3 }, 2*time.Second, 10*time.Millisecond)

	samples := f.recorder.recorded()
	for _, s := range samples {
		assert.Equal(t, technician.ID(3), s.TechnicianID)
	}
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), samples[0].CapturedAt)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), samples[1].CapturedAt)
	assert.Equal(t, 43.67, samples[2].Latitude)

	assert.NotNil(t, f.hub.Lookup(3))
	assert.Len(t, f.recorder.origins, 3)
}

func TestLocationSocket_InvalidUpdates(t *testing.T) {
	f := newSocketFixture(t, nil)
	conn := f.dial(t)

	writeJSON(t, conn, `{"type":"location-update","userId":1,"data":{"latitude":200,"longitude":0}}`)
	expectError(t, conn, "")

	writeJSON(t, conn, `{"type":"location-update","userId":1,"data":{"latitude":10}}`)
	expectError(t, conn, "latitude and longitude are required")

	writeJSON(t, conn, `{"type":"location-update","userId":1,"data":{"userId":2,"latitude":1,"longitude":1}}`)
	expectError(t, conn, "mismatch")

	writeJSON(t, conn, `{"type":"location-update","userId":1,"data":{"latitude":"north","longitude":1}}`)
	expectError(t, conn, "")

	assert.Empty(t, f.recorder.recorded())

	// Identity is taken even when coordinates are refused
	assert.NotNil(t, f.hub.Lookup(1))
}

func TestLocationSocket_RecordFailureIsNotReported(t *testing.T) {
	f := newSocketFixture(t, nil)
	f.recorder.recordErr = errors.New("failed to publish")

	conn := f.dial(t)
	writeJSON(t, conn, `{"type":"location-update","userId":4,"data":{"latitude":1,"longitude":1}}`)
	writeJSON(t, conn, `{"type":"initial-data"}`)

	// The next frame is the snapshot, not an error
	assert.Equal(t, "initial-data", readFrame(t, conn)["type"])
}

func TestLocationSocket_RateLimit(t *testing.T) {
	f := newSocketFixture(t, func(cfg *SocketConfig) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})
	conn := f.dial(t)

	writeJSON(t, conn, `{"type":"initial-data","userId":1}`)
	assert.Equal(t, "initial-data", readFrame(t, conn)["type"])

	writeJSON(t, conn, `{"type":"initial-data","userId":1}`)
	expectError(t, conn, "rate limit exceeded")
}

func TestLocationSocket_DisconnectUnregisters(t *testing.T) {
	f := newSocketFixture(t, nil)
	conn := f.dial(t)

	writeJSON(t, conn, `{"type":"initial-data","userId":6}`)
	readFrame(t, conn)
	require.NotNil(t, f.hub.Lookup(6))
	assert.Equal(t, int64(1), f.handler.ActiveConnections())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.hub.Lookup(6) == nil && f.handler.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocationSocket_HubCloseDropsConnections(t *testing.T) {
	f := newSocketFixture(t, nil)
	conn := f.dial(t)

	// Unidentified connections are closed too
	require.Eventually(t, func() bool { return f.handler.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestLocationSocket_Origin(t *testing.T) {
	f := newSocketFixture(t, func(cfg *SocketConfig) {
		cfg.AllowedOrigins = []string{"https://dispatch.example.com"}
	})
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://dispatch.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginChecker(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://a.example.com")

	assert.True(t, originChecker(nil)(r))
	assert.True(t, originChecker([]string{"*"})(r))
	assert.True(t, originChecker([]string{"https://A.example.com"})(r))
	assert.False(t, originChecker([]string{"https://b.example.com"})(r))

	r.Header.Del("Origin")
	assert.True(t, originChecker([]string{"https://b.example.com"})(r))
}
