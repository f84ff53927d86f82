package main

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
)

func TestDescribe(t *testing.T) {
	png, err := codec.EncodePNG(image.NewGray(image.Rect(0, 0, 5, 4)))
	require.NoError(t, err)

	s := describe(protocol.Streaming, 0, capture.Record{Direction: capture.Inbound, Tag: 3, Payload: png})
	assert.Equal(t, "transformed_frame", s.Kind)
	assert.Equal(t, "png", s.Format)
	assert.Equal(t, 5, s.Width)

	s = describe(protocol.Annotation, 1, capture.Record{Direction: capture.Inbound, Tag: 3, Payload: png})
	assert.Equal(t, "unknown", s.Kind)
	assert.Empty(t, s.Format)

	s = describe(protocol.Annotation, 2, capture.Record{Direction: capture.Outbound, Tag: 3, Payload: []byte("1,2;3,4")})
	assert.Equal(t, "annotation-points", s.Kind)
	assert.Equal(t, "1,2;3,4", s.Text)

	s = describe(protocol.Streaming, 3, capture.Record{Direction: capture.Inbound, Tag: 1, Payload: []byte("junk")})
	assert.Equal(t, "flowmap", s.Kind)
	assert.Empty(t, s.Format)
	assert.NotEmpty(t, s.Text)
}
