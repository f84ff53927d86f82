package client

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type connection struct {
	conn        net.Conn
	session     string
	address     string
	connectedAt time.Time

	closing  atomic.Bool
	done     chan struct{} // receive goroutine exited
	released chan struct{} // teardown finished
}

func (c *Client) current() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Connect dials host:port and starts the receive goroutine. An existing
// connection is torn down first. Failures are logged, announced with an
// EventConnectFailed and returned as *ConnectionError; the client stays
// disconnected.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if cn := c.current(); cn != nil {
		c.teardown(cn, true, "reconnect")
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		connErr := &ConnectionError{Address: address, Err: err}
		c.metrics.connectFailures.Inc()
		c.logger.Error("connect failed", zap.String("address", address), zap.Error(err))
		c.emit(Event{Kind: EventConnectFailed, Address: address, Err: connErr})
		return connErr
	}

	cn := &connection{
		conn:        conn,
		session:     uuid.NewString(),
		address:     address,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
		released:    make(chan struct{}),
	}
	c.mu.Lock()
	c.active = cn
	c.connected.Store(true)
	c.mu.Unlock()

	c.metrics.connects.Inc()
	c.metrics.connected.Set(1)
	c.logger.Info("connected",
		zap.String("address", address),
		zap.String("session", cn.session),
		zap.String("profile", c.cfg.Profile.Name),
	)
	c.emit(Event{Kind: EventConnectionChanged, Connected: true, Session: cn.session, Address: address})

	go c.receiveLoop(cn)
	return nil
}

// Disconnect closes the current connection, if any. It waits at most
// StopTimeout for the receive goroutine before releasing the socket anyway.
func (c *Client) Disconnect() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	cn := c.current()
	if cn == nil {
		return
	}
	c.teardown(cn, true, "requested")
}

// teardown runs once per connection no matter how many paths race to it.
// Closing the socket first unblocks a pending read in the receive goroutine.
func (c *Client) teardown(cn *connection, wait bool, reason string) {
	if !cn.closing.CompareAndSwap(false, true) {
		if wait {
			select {
			case <-cn.released:
			case <-time.After(c.cfg.StopTimeout):
			}
		}
		return
	}
	defer close(cn.released)

	c.mu.Lock()
	if c.active == cn {
		c.active = nil
		c.connected.Store(false)
	}
	c.mu.Unlock()

	_ = cn.conn.Close()

	if wait {
		timer := time.NewTimer(c.cfg.StopTimeout)
		select {
		case <-cn.done:
		case <-timer.C:
			c.logger.Warn("receive loop did not stop in time",
				zap.String("session", cn.session),
				zap.Duration("timeout", c.cfg.StopTimeout),
			)
		}
		timer.Stop()
	}

	c.metrics.connected.Set(0)
	c.metrics.disconnects.WithLabelValues(reason).Inc()
	c.logger.Info("disconnected",
		zap.String("address", cn.address),
		zap.String("session", cn.session),
		zap.String("reason", reason),
	)
	c.emit(Event{Kind: EventConnectionChanged, Connected: false, Session: cn.session, Address: cn.address, Reason: reason})
}
