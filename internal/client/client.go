package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/logging"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// Config holds the knobs of one client. Zero durations and sizes fall back
// to the values of DefaultConfig.
type Config struct {
	Profile         protocol.Profile
	Classes         []store.ImageClass
	MaxPayload      uint32
	MaxPixels       int
	DialTimeout     time.Duration
	StopTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	BlendInterval   time.Duration
	EventBuffer     int
	LogEvery        int
	DebugLog        bool
}

func DefaultConfig() Config {
	return Config{
		Profile:       protocol.Streaming,
		Classes:       store.AllClasses(),
		MaxPayload:    protocol.DefaultMaxPayload,
		DialTimeout:   5 * time.Second,
		StopTimeout:   time.Second,
		WriteTimeout:  5 * time.Second,
		BlendInterval: time.Second,
		EventBuffer:   256,
		LogEvery:      100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Profile.Name == "" {
		c.Profile = def.Profile
	}
	if len(c.Classes) == 0 {
		c.Classes = def.Classes
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = def.MaxPayload
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BlendInterval <= 0 {
		c.BlendInterval = def.BlendInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.LogEvery < 1 {
		c.LogEvery = def.LogEvery
	}
	return c
}

// Recorder receives a copy of every wire message.
type Recorder interface {
	Record(dir capture.Direction, tag byte, payload []byte) error
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

func WithRecorder(rec Recorder) Option {
	return func(c *Client) {
		c.recorder = rec
	}
}

// WithStore shares an existing image store instead of creating one.
func WithStore(s *store.Store) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// Client is one connection context to an image server: the socket, its
// receive goroutine, the outbound write path and the image store it feeds.
type Client struct {
	cfg        Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics
	recorder   Recorder
	store      *store.Store
	events     *dispatcher

	readLog   *logging.EveryN
	decodeLog *logging.EveryN

	// lifecycleMu serializes Connect and Disconnect; mu guards active.
	lifecycleMu sync.Mutex
	mu          sync.Mutex
	active      *connection
	connected   atomic.Bool
	closed      atomic.Bool

	writeMu sync.Mutex
}

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.New(cfg.Classes...)
	}
	c.metrics = newMetrics(c.registerer)
	c.events = newDispatcher(cfg.EventBuffer)
	c.readLog = logging.NewEveryN(cfg.LogEvery)
	c.decodeLog = logging.NewEveryN(cfg.LogEvery)
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Store() *store.Store {
	return c.store
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe registers l for all events and returns a function removing it.
// Listeners run one at a time on the client's event goroutine. They must
// return promptly and must not call Close. A listener that never returns
// stalls delivery: image arrivals are dropped, and once the reserved queue
// slots fill, Connect and Disconnect block emitting connection events.
func (c *Client) Subscribe(l Listener) func() {
	return c.events.subscribe(l)
}

func (c *Client) Snapshot(class store.ImageClass) (store.Snapshot, error) {
	return c.store.Snapshot(class)
}

// ResetImages clears the stored images of class so the next arrival is
// shown as a first image.
func (c *Client) ResetImages(class store.ImageClass) error {
	if err := c.store.Reset(class); err != nil {
		return err
	}
	c.logger.Info("images reset", zap.Stringer("class", class))
	return nil
}

// AdvanceBlend advances the cross-fade of class by dt using the configured
// blend interval.
func (c *Client) AdvanceBlend(class store.ImageClass, dt time.Duration) (float64, error) {
	return c.store.AdvanceBlend(class, dt, c.cfg.BlendInterval)
}

// Status summarizes the connection for status surfaces.
type Status struct {
	Connected   bool                        `json:"connected"`
	Session     string                      `json:"session,omitempty"`
	Address     string                      `json:"address,omitempty"`
	ConnectedAt time.Time                   `json:"connected_at,omitempty"`
	Profile     string                      `json:"profile"`
	Images      map[string]store.ClassStats `json:"images"`
}

func (c *Client) Status() Status {
	st := Status{
		Connected: c.IsConnected(),
		Profile:   c.cfg.Profile.Name,
		Images:    c.store.Stats(),
	}
	if cn := c.current(); cn != nil {
		st.Session = cn.session
		st.Address = cn.address
		st.ConnectedAt = cn.connectedAt
	}
	return st
}

// Close disconnects and stops event delivery. The client cannot be reused.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.Disconnect()
	c.events.close()
}

func (c *Client) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if !c.events.publish(ev) && ev.Kind == EventImageReceived {
		c.metrics.eventsDropped.Inc()
	}
}

func (c *Client) record(dir capture.Direction, tag byte, payload []byte) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(dir, tag, payload); err != nil {
		c.logger.Warn("capture record failed", zap.Error(err))
	}
}
