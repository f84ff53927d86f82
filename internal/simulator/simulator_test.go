package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

const waitFor = 3 * time.Second

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("simulator did not stop")
		}
	})
	return srv
}

func connectClient(t *testing.T, srv *Server, profile protocol.Profile) (*client.Client, <-chan client.Event) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Profile = profile
	c := client.New(cfg)
	t.Cleanup(c.Close)

	events := make(chan client.Event, 256)
	c.Subscribe(func(ev client.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", srv.Addr().Port))
	return c, events
}

func waitImage(t *testing.T, events <-chan client.Event, class store.ImageClass) client.Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-events:
			if ev.Kind == client.EventImageReceived && ev.Class == class {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s image received", class)
			return client.Event{}
		}
	}
}

func waitReceived(t *testing.T, srv *Server, cmd protocol.Command) Received {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case rec := <-srv.Received():
			if rec.Command == cmd {
				return rec
			}
		case <-deadline:
			t.Fatalf("simulator did not see %s", cmd)
			return Received{}
		}
	}
}

func TestStreamingSession(t *testing.T) {
	srv := startServer(t, Config{Width: 16, Height: 12, Rate: 50})
	c, events := connectClient(t, srv, protocol.Streaming)

	require.NoError(t, c.RequestStreamStart())
	waitReceived(t, srv, protocol.CommandStreamStart)
	first := waitImage(t, events, store.FlowMap)
	assert.Equal(t, "png", first.Image.Format)
	assert.Equal(t, 16, first.Image.Width)
	second := waitImage(t, events, store.FlowMap)
	assert.Greater(t, second.Sequence, first.Sequence)

	snap, err := c.Snapshot(store.FlowMap)
	require.NoError(t, err)
	assert.False(t, snap.IsFirstImage)

	require.NoError(t, c.RequestCurrentFrame())
	frame := waitImage(t, events, store.Frame)
	assert.Equal(t, "jpeg", frame.Image.Format)

	require.NoError(t, c.RequestTransformedFrame())
	waitImage(t, events, store.TransformedFrame)

	require.NoError(t, c.SendAnnotationPoints([]protocol.Point{{X: 3, Y: 4}, {X: 10, Y: 20}}))
	rec := waitReceived(t, srv, protocol.CommandAnnotationPoints)
	assert.Equal(t, []protocol.Point{{X: 3, Y: 4}, {X: 10, Y: 20}}, rec.Points)

	require.NoError(t, c.SendWaterJetVectors([]protocol.Vector{{StartX: 1, StartY: 2, EndX: 3, EndY: 4}}))
	rec = waitReceived(t, srv, protocol.CommandWaterJetVectors)
	assert.Len(t, rec.Vectors, 1)

	edited, err := codec.EncodePNG(Frame(8, 8, 1))
	require.NoError(t, err)
	require.NoError(t, c.SendEditedFrame(edited))
	rec = waitReceived(t, srv, protocol.CommandEditedFrame)
	require.NoError(t, rec.Err)
	assert.Equal(t, 8, rec.Image.Width)

	require.NoError(t, c.RequestStreamStop())
	waitReceived(t, srv, protocol.CommandStreamStop)
}

func TestAnnotationProfileStreamsOnConnect(t *testing.T) {
	srv := startServer(t, Config{Profile: protocol.Annotation, Width: 8, Height: 8, Rate: 50})
	c, events := connectClient(t, srv, protocol.Annotation)

	waitImage(t, events, store.FlowMap)

	require.NoError(t, c.SendAnnotationPoints([]protocol.Point{{X: 1, Y: 1}}))
	rec := waitReceived(t, srv, protocol.CommandAnnotationPoints)
	assert.Equal(t, byte(3), rec.Tag)

	assert.ErrorIs(t, c.RequestStreamStart(), protocol.ErrUnsupportedCommand)
}

func TestMalformedPointsKeepConnection(t *testing.T) {
	srv := startServer(t, Config{})
	c, _ := connectClient(t, srv, protocol.Streaming)

	require.NoError(t, c.Send(protocol.CommandAnnotationPoints, []byte("not,a,point")))
	rec := waitReceived(t, srv, protocol.CommandAnnotationPoints)
	assert.Error(t, rec.Err)

	require.NoError(t, c.RequestStreamStop())
	waitReceived(t, srv, protocol.CommandStreamStop)
	assert.True(t, c.IsConnected())
}

func TestFlowMapEncodesSwirl(t *testing.T) {
	img := FlowMap(9, 9, 0)
	centre := img.NRGBAAt(4, 4)
	assert.InDelta(t, 127, int(centre.R), 2)
	assert.InDelta(t, 127, int(centre.G), 2)

	// Right of centre the field points down (+y).
	right := img.NRGBAAt(7, 4)
	assert.Greater(t, int(right.G), 127)
}
