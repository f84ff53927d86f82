package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

type sentCommand struct {
	cmd     protocol.Command
	payload []byte
}

type fakeController struct {
	mu        sync.Mutex
	connected bool
	sent      []sentCommand
	store     *store.Store
}

func (f *fakeController) Status() client.Status {
	return client.Status{Connected: f.connected, Profile: "streaming", Images: f.store.Stats()}
}

func (f *fakeController) Subscribe(client.Listener) func() { return func() {} }

func (f *fakeController) Send(cmd protocol.Command, payload []byte) error {
	if !f.connected {
		return client.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{cmd: cmd, payload: payload})
	return nil
}

func (f *fakeController) Store() *store.Store { return f.store }

func newTestServer(t *testing.T, connected bool) (*Server, *fakeController, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	ctrl := &fakeController{connected: connected, store: store.New()}
	return New(ctrl, reg, nil), ctrl, reg
}

func pngImage(t *testing.T) *codec.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 1, color.RGBA{R: 255, A: 255})
	data, err := codec.EncodePNG(src)
	require.NoError(t, err)
	img, err := codec.Decode(data, 0)
	require.NoError(t, err)
	return img
}

func serve(s *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	rec := serve(s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	rec := serve(s, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Client    client.Status `json:"client"`
		WSClients int           `json:"ws_clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.True(t, payload.Client.Connected)
	assert.Equal(t, "streaming", payload.Client.Profile)
	assert.Contains(t, payload.Client.Images, "flowmap")
	assert.Zero(t, payload.WSClients)
}

func TestHandleSnapshot(t *testing.T) {
	s, ctrl, _ := newTestServer(t, true)

	rec := serve(s, http.MethodGet, "/snapshot/flowmap", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodGet, "/snapshot/bogus", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	img := pngImage(t)
	_, err := ctrl.store.Deposit(store.FlowMap, img)
	require.NoError(t, err)

	rec = serve(s, http.MethodGet, "/snapshot/flowmap", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.Equal(img.Encoded, rec.Body.Bytes()))
}

func TestHandleCommand(t *testing.T) {
	s, ctrl, _ := newTestServer(t, true)

	rec := serve(s, http.MethodPost, "/commands/annotation-points", "application/json", `[{"x":3,"y":4},{"x":10,"y":20}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(s, http.MethodPost, "/commands/stream-start", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodPost, "/commands/water-jet-vectors", "text/plain", "1,2,3,4")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ctrl.sent, 3)
	assert.Equal(t, sentCommand{protocol.CommandAnnotationPoints, []byte("3,4;10,20")}, ctrl.sent[0])
	assert.Equal(t, protocol.CommandStreamStart, ctrl.sent[1].cmd)
	assert.Nil(t, ctrl.sent[1].payload)
	assert.Equal(t, []byte("1,2,3,4"), ctrl.sent[2].payload)

	rec = serve(s, http.MethodPost, "/commands/annotation-points", "application/json", `{"x":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodPost, "/commands/self-destruct", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCommandWhileDisconnected(t *testing.T) {
	s, ctrl, _ := newTestServer(t, false)
	rec := serve(s, http.MethodPost, "/commands/request-frame", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ctrl.sent)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, reg := newTestServer(t, false)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "flowmap_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	rec := serve(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowmap_test_total 3")
}

func TestWebsocketReceivesEvents(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.broadcast(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "status", hello["type"])

	s.OnEvent(client.Event{
		Kind:     client.EventImageReceived,
		Class:    store.Frame,
		Sequence: 4,
		Image:    pngImage(t),
	})

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "image", msg["type"])
	assert.Equal(t, "frame", msg["class"])
	assert.Equal(t, float64(4), msg["sequence"])
	assert.Equal(t, float64(2), msg["width"])
}
