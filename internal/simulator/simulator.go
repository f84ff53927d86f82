package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
)

// Config controls the simulated image server.
type Config struct {
	Profile protocol.Profile
	Width   int
	Height  int
	// Rate is the number of flow maps streamed per second.
	Rate       float64
	MaxPayload uint32
	// StreamOnConnect starts streaming without waiting for a start command.
	// Profiles without a stream-start command need it.
	StreamOnConnect bool
	Logger          *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Profile.Name == "" {
		c.Profile = protocol.Streaming
	}
	if c.Width <= 0 {
		c.Width = 64
	}
	if c.Height <= 0 {
		c.Height = 48
	}
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = protocol.DefaultMaxPayload
	}
	if _, err := c.Profile.Tag(protocol.CommandStreamStart); err != nil {
		c.StreamOnConnect = true
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Received is a client command as the server saw it.
type Received struct {
	Command protocol.Command
	Tag     byte
	Payload []byte
	Points  []protocol.Point
	Vectors []protocol.Vector
	Image   *codec.Image
	Err     error
	At      time.Time
}

// Server plays the image-server side of the protocol on a TCP listener.
type Server struct {
	cfg      Config
	ln       net.Listener
	received chan Received
	quit     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func Listen(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		ln:       ln,
		received: make(chan Received, 64),
		quit:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Received reports every command the server handled. Sends block while the
// channel is full, so callers should drain it.
func (s *Server) Received() <-chan Received {
	return s.received
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.quit:
		}
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				s.wg.Wait()
				return nil
			default:
			}
			return err
		}
		s.mu.Lock()
		select {
		case <-s.quit:
			s.mu.Unlock()
			_ = conn.Close()
			continue
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		err = s.ln.Close()
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

type session struct {
	conn    net.Conn
	writeMu sync.Mutex

	streamMu sync.Mutex
	stop     chan struct{}
	frames   int64
}

func (s *Server) handle(conn net.Conn) {
	logger := s.cfg.Logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Info("client connected")
	sess := &session{conn: conn}
	defer func() {
		sess.stopStreaming()
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		logger.Info("client disconnected")
	}()

	if s.cfg.StreamOnConnect {
		s.startStreaming(sess)
	}

	reader := bufio.NewReader(conn)
	for {
		tag, err := reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		cmd, ok := s.cfg.Profile.CommandFor(tag)
		if !ok {
			// Without a known command the payload boundary is unknown.
			logger.Warn("unknown command tag", zap.Uint8("tag", tag))
			return
		}
		rec := Received{Command: cmd, Tag: tag, At: time.Now()}
		if cmd.HasPayload() {
			rec.Payload, err = protocol.ReadPayload(reader, s.cfg.MaxPayload)
			if err != nil {
				logger.Warn("payload read failed", zap.Stringer("command", cmd), zap.Error(err))
				return
			}
		}
		if err := s.apply(sess, &rec); err != nil {
			logger.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
			if rec.Err == nil {
				return
			}
		}
		if !s.report(rec) {
			return
		}
	}
}

// apply performs cmd. Parse problems are stored in rec.Err and keep the
// connection; write failures are returned with rec.Err unset.
func (s *Server) apply(sess *session, rec *Received) error {
	switch rec.Command {
	case protocol.CommandRequestFrame:
		return s.sendFrame(sess, protocol.TagFrame, false)
	case protocol.CommandRequestTransformedFrame:
		return s.sendFrame(sess, protocol.TagTransformedFrame, true)
	case protocol.CommandStreamStart:
		s.startStreaming(sess)
	case protocol.CommandStreamStop:
		sess.stopStreaming()
	case protocol.CommandEditedFrame:
		rec.Image, rec.Err = codec.Decode(rec.Payload, 0)
		return rec.Err
	case protocol.CommandAnnotationPoints:
		rec.Points, rec.Err = protocol.ParsePoints(rec.Payload)
		return rec.Err
	case protocol.CommandWaterJetVectors:
		rec.Vectors, rec.Err = protocol.ParseVectors(rec.Payload)
		return rec.Err
	}
	return nil
}

func (s *Server) report(rec Received) bool {
	select {
	case s.received <- rec:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Server) sendFrame(sess *session, tag byte, transformed bool) error {
	sess.streamMu.Lock()
	sess.frames++
	seed := sess.frames
	sess.streamMu.Unlock()

	var img image.Image = Frame(s.cfg.Width, s.cfg.Height, seed)
	if transformed {
		img = shear(img)
	}
	data, err := codec.EncodeJPEG(img, 85)
	if err != nil {
		return err
	}
	return sess.write(protocol.Encode(tag, data))
}

func (s *Server) startStreaming(sess *session) {
	sess.streamMu.Lock()
	defer sess.streamMu.Unlock()
	if sess.stop != nil {
		return
	}
	stop := make(chan struct{})
	sess.stop = stop

	interval := time.Duration(float64(time.Second) / s.cfg.Rate)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		phase := 0.0
		for {
			data, err := codec.EncodePNG(FlowMap(s.cfg.Width, s.cfg.Height, phase))
			if err == nil {
				err = sess.write(protocol.Encode(protocol.TagFlowMap, data))
			}
			if err != nil {
				s.cfg.Logger.Debug("stream stopped", zap.Error(err))
				return
			}
			phase += 0.1
			select {
			case <-stop:
				return
			case <-s.quit:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (sess *session) stopStreaming() {
	sess.streamMu.Lock()
	defer sess.streamMu.Unlock()
	if sess.stop != nil {
		close(sess.stop)
		sess.stop = nil
	}
}

func (sess *session) write(buf []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFull(sess.conn, buf); err != nil {
		return fmt.Errorf("write tag %d: %w", buf[0], err)
	}
	return nil
}

// shear offsets each row to stand in for a perspective correction.
func shear(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		offset := (y - b.Min.Y) / 4
		for x := b.Min.X; x < b.Max.X; x++ {
			sx := x - offset
			if sx < b.Min.X {
				continue
			}
			dst.Set(x, y, src.At(sx, y))
		}
	}
	return dst
}
