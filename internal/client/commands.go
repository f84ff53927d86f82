package client

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/protocol"
)

var ErrEmptyPayload = errors.New("client: empty payload")

// RequestCurrentFrame asks the server to send the frame it is currently
// processing; it arrives later as a Frame image.
func (c *Client) RequestCurrentFrame() error {
	return c.send(protocol.CommandRequestFrame, nil)
}

// RequestTransformedFrame asks for the perspective-corrected frame.
func (c *Client) RequestTransformedFrame() error {
	return c.send(protocol.CommandRequestTransformedFrame, nil)
}

// SendEditedFrame uploads an encoded (JPEG or PNG) edited frame.
func (c *Client) SendEditedFrame(image []byte) error {
	if len(image) == 0 {
		return ErrEmptyPayload
	}
	return c.send(protocol.CommandEditedFrame, image)
}

// SendAnnotationPoints sends the batch as "x1,y1;x2,y2;...".
func (c *Client) SendAnnotationPoints(points []protocol.Point) error {
	return c.send(protocol.CommandAnnotationPoints, protocol.FormatPoints(points))
}

// SendWaterJetVectors sends the batch as "sx,sy,ex,ey;...".
func (c *Client) SendWaterJetVectors(vectors []protocol.Vector) error {
	return c.send(protocol.CommandWaterJetVectors, protocol.FormatVectors(vectors))
}

func (c *Client) RequestStreamStart() error {
	return c.send(protocol.CommandStreamStart, nil)
}

func (c *Client) RequestStreamStop() error {
	return c.send(protocol.CommandStreamStop, nil)
}

// Send issues cmd with payload; the named helpers are preferred.
func (c *Client) Send(cmd protocol.Command, payload []byte) error {
	return c.send(cmd, payload)
}

func (c *Client) send(cmd protocol.Command, payload []byte) error {
	if !c.IsConnected() {
		c.logger.Warn("command while disconnected", zap.Stringer("command", cmd))
		return ErrNotConnected
	}
	if cmd.HasPayload() && uint32(len(payload)) > c.cfg.MaxPayload {
		return &protocol.ProtocolError{Length: uint32(len(payload)), Max: c.cfg.MaxPayload}
	}
	buf, err := c.cfg.Profile.EncodeCommand(cmd, payload)
	if err != nil {
		return err
	}

	cn, err := c.write(buf)
	if err != nil {
		if cn == nil {
			return err
		}
		ioErr := &IOError{Op: "write " + cmd.String(), Err: err}
		c.logger.Error("send failed", zap.String("session", cn.session), zap.Error(ioErr))
		c.teardown(cn, true, "write_error")
		return ioErr
	}

	c.metrics.commandsSent.WithLabelValues(cmd.String()).Inc()
	c.metrics.bytesSent.Add(float64(len(buf)))
	c.record(capture.Outbound, buf[0], payload)
	if c.cfg.DebugLog {
		c.logger.Debug("command sent", zap.Stringer("command", cmd), zap.Int("bytes", len(buf)))
	}
	return nil
}

// write puts buf on the socket as one message. A nil connection in the
// result means nothing was written.
func (c *Client) write(buf []byte) (*connection, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cn := c.current()
	if cn == nil || cn.closing.Load() {
		return nil, ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		_ = cn.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return cn, protocol.WriteFull(cn.conn, buf)
}
