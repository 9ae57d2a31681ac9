package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/events"
	"github.com/crit-tech/gms-notebook-server/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status   scheduler.Status
	triggers atomic.Int32
	stopped  atomic.Bool
}

func (f *fakeSource) Status() scheduler.Status { return f.status }

func (f *fakeSource) Trigger(ctx context.Context) bool {
	if f.stopped.Load() {
		return false
	}
	f.triggers.Add(1)
	return true
}

func setup(t *testing.T) (*Server, *fakeSource, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	last := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	src := &fakeSource{status: scheduler.Status{
		Port:          3001,
		Folder:        "/notes",
		Due:           false,
		LastFullIndex: &last,
		NextRun:       last.Add(12 * time.Hour),
	}}
	bus := events.NewBus()
	s := NewServer("127.0.0.1:0", map[int]Source{3001: src}, bus)
	return s, src, bus
}

func TestTriggerIndex(t *testing.T) {
	s, src, _ := setup(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sources/3001/index", nil)
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int32(1), src.triggers.Load())
}

func TestTriggerIndex_StoppedSource(t *testing.T) {
	s, src, _ := setup(t)
	src.stopped.Store(true)

	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sources/3001/index", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, src.triggers.Load())
}

func TestTriggerIndex_UnknownPort(t *testing.T) {
	s, src, _ := setup(t)
	h := s.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sources/4000/index", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sources/abc/index", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, src.triggers.Load())
}

func TestSourceStatus(t *testing.T) {
	s, _, _ := setup(t)

	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sources/3001/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.JSONEq(t, `{
		"port": 3001,
		"folder": "/notes",
		"due": false,
		"running": false,
		"lastFullIndex": "2024-05-01T08:00:00Z",
		"nextRun": "2024-05-01T20:00:00Z"
	}`, w.Body.String())
}

func TestListSources(t *testing.T) {
	s, _, _ := setup(t)

	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out []scheduler.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 3001, out[0].Port)
}

func TestStreamEvents(t *testing.T) {
	s, _, bus := setup(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(&events.Event{Level: "info", Message: "索引调度已启动"})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			eventLine = line
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimPrefix(line, "data:")
		}
	}

	assert.Equal(t, "event:log", eventLine)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &got))
	assert.Equal(t, "索引调度已启动", got.Message)
	assert.Equal(t, "info", got.Level)
}

func TestStop_WithEventSubscriber(t *testing.T) {
	s, _, bus := setup(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.server.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop serving")
	}
	assert.Zero(t, bus.Subscribers())
}
