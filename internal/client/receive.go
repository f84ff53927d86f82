package client

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// receiveLoop reads framed messages until the connection fails or is torn
// down. Every failure ends this connection; reconnecting is left to the owner.
func (c *Client) receiveLoop(cn *connection) {
	defer close(cn.done)

	for {
		if c.cfg.ReadIdleTimeout > 0 {
			_ = cn.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		}
		msg, err := protocol.ReadMessage(cn.conn, c.cfg.MaxPayload)
		if err != nil {
			if cn.closing.Load() {
				return
			}
			c.teardown(cn, false, c.classifyReadError(cn, err))
			return
		}

		c.metrics.messagesReceived.WithLabelValues(strconv.Itoa(int(msg.Tag))).Inc()
		c.metrics.bytesReceived.Add(float64(len(msg.Payload)))
		c.record(capture.Inbound, msg.Tag, msg.Payload)

		c.dispatch(cn, c.cfg.Profile.DecodeInbound(msg))
	}
}

func (c *Client) classifyReadError(cn *connection, err error) string {
	fields := []zap.Field{zap.String("session", cn.session), zap.Error(err)}

	var protoErr *protocol.ProtocolError
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Warn("server closed the connection", fields...)
		return "server_closed"
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.logger.Warn("server closed the connection mid-message", fields...)
		return "truncated"
	case errors.As(err, &protoErr):
		c.logger.Error("protocol error", fields...)
		return "protocol_error"
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Warn("read idle timeout", append(fields, zap.Duration("timeout", c.cfg.ReadIdleTimeout))...)
		return "idle_timeout"
	default:
		ioErr := &IOError{Op: "read", Err: err}
		c.logger.Error("receive failed", zap.String("session", cn.session), zap.Error(ioErr))
		return "read_error"
	}
}

func (c *Client) dispatch(cn *connection, in protocol.Inbound) {
	switch m := in.(type) {
	case protocol.FlowMapImage:
		c.accept(cn, store.FlowMap, m.Payload)
	case protocol.FrameImage:
		c.accept(cn, store.Frame, m.Payload)
	case protocol.TransformedFrameImage:
		c.accept(cn, store.TransformedFrame, m.Payload)
	case protocol.UnknownMessage:
		c.metrics.unknownMessages.Inc()
		if ok, count := c.readLog.Allow(); ok {
			c.logger.Warn("ignoring unknown message",
				zap.Uint8("tag", m.Tag),
				zap.Int("size", len(m.Payload)),
				zap.Uint64("seen", count),
			)
		}
	}
}

func (c *Client) accept(cn *connection, class store.ImageClass, payload []byte) {
	if !c.store.Tracks(class) {
		c.metrics.unknownMessages.Inc()
		if ok, _ := c.readLog.Allow(); ok {
			c.logger.Debug("ignoring untracked image class", zap.Stringer("class", class))
		}
		return
	}

	start := time.Now()
	img, err := codec.Decode(payload, c.cfg.MaxPixels)
	c.metrics.decodeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.decodeFailures.WithLabelValues(class.String()).Inc()
		if ok, count := c.decodeLog.Allow(); ok {
			c.logger.Warn("dropping undecodable image",
				zap.Stringer("class", class),
				zap.Error(err),
				zap.Uint64("failures", count),
			)
		}
		return
	}

	seq, err := c.store.Deposit(class, img)
	if err != nil {
		c.logger.Error("deposit failed", zap.Stringer("class", class), zap.Error(err))
		return
	}
	c.metrics.imagesDeposited.WithLabelValues(class.String()).Inc()
	if c.cfg.DebugLog {
		c.logger.Debug("image received",
			zap.Stringer("class", class),
			zap.Uint64("sequence", seq),
			zap.Int("bytes", len(payload)),
			zap.Int("width", img.Width),
			zap.Int("height", img.Height),
		)
	}
	c.emit(Event{
		Kind:      EventImageReceived,
		Session:   cn.session,
		Address:   cn.address,
		Connected: true,
		Class:     class,
		Sequence:  seq,
		Image:     img,
	})
}
