package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/techtrack/pkg/logger"
)

func TestClient_Send(t *testing.T) {
	c := newTestClient(1)
	require.True(t, c.Open())

	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendBufferFull)

	c.Close()
	c.Close()
	assert.False(t, c.Open())
	assert.ErrorIs(t, c.Send([]byte("c")), ErrClientClosed)
	assert.NotEmpty(t, c.ID)
}

// pumpRecorder collects what ReadPump hands out
type pumpRecorder struct {
	mu        sync.Mutex
	messages  []string
	oversized []int64
}

func (p *pumpRecorder) handle(message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, string(message))
}

func (p *pumpRecorder) tooLarge(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oversized = append(p.oversized, size)
}

func (p *pumpRecorder) snapshot() ([]string, []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...), append([]int64(nil), p.oversized...)
}

func TestClient_ReadPump(t *testing.T) {
	cfg := DefaultPumpConfig()
	cfg.MaxMessageBytes = 16

	recorder := &pumpRecorder{}
	done := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, 1, logger.NewNop()).ReadPump(cfg, recorder.handle, recorder.tooLarge)
		close(done)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("first")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 40))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("second")))

	require.Eventually(t, func() bool {
		messages, _ := recorder.snapshot()
		return len(messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	messages, oversized := recorder.snapshot()
	assert.Equal(t, []string{"first", "second"}, messages)
	assert.Equal(t, []int64{40}, oversized)

	// Past the transport ceiling the pump gives up
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("b", 16*frameCeilingFactor+1))))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not stop")
	}
}
