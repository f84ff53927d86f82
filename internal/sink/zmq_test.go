package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/store"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	const endpoint = "inproc://flowmap-sink-test"
	pub, err := NewZMQPublisher(endpoint)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	announcements, err := Subscribe(ctx, endpoint, []string{store.FlowMap.String()}, nil)
	require.NoError(t, err)

	// A SUB socket misses messages published before its subscription lands,
	// so keep publishing until one arrives.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case a := <-announcements:
			assert.Equal(t, "image", a.Type)
			assert.Equal(t, "flowmap", a.Class)
			assert.Equal(t, uint64(9), a.Sequence)
			return
		case <-ticker.C:
			require.NoError(t, pub.Handle(ctx, imageEvent(9)))
		case <-deadline:
			t.Fatal("no announcement received")
		}
	}
}
