package sink

import (
	"context"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/logging"
)

// pollInterval bounds how long a receive blocks before ctx is checked again.
const pollInterval = 250 * time.Millisecond

// Subscribe connects a SUB socket to a ZMQPublisher endpoint and returns the
// decoded announcements. An empty topic list subscribes to everything. The
// channel is closed when ctx ends.
func Subscribe(ctx context.Context, endpoint string, topics []string, logger *zap.Logger) (<-chan Announcement, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := socket.SetSubscribe(topic); err != nil {
			_ = socket.Close()
			return nil, err
		}
	}
	if err := socket.SetRcvtimeo(pollInterval); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	out := make(chan Announcement, 128)
	errLog := logging.NewEveryN(100)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			parts, err := socket.RecvMessageBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				if ok, n := errLog.Allow(); ok {
					logger.Warn("subscribe recv failed", zap.Error(err), zap.Uint64("count", n))
				}
				continue
			}
			if len(parts) != 2 {
				if ok, n := errLog.Allow(); ok {
					logger.Warn("subscribe skipped message", zap.Int("parts", len(parts)), zap.Uint64("count", n))
				}
				continue
			}
			a, err := DecodeAnnouncement(parts[1])
			if err != nil {
				if ok, n := errLog.Allow(); ok {
					logger.Warn("subscribe decode failed", zap.Error(err), zap.Uint64("count", n))
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- a:
			}
		}
	}()
	return out, nil
}
