package sink

import (
	"context"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"flowmap-stream-go/internal/client"
)

// Announcement is the CBOR body published for each event. Type is "image"
// for arrivals and "status" for connection changes.
type Announcement struct {
	Type      string  `cbor:"type"`
	Class     string  `cbor:"class,omitempty"`
	Session   string  `cbor:"session,omitempty"`
	Sequence  uint64  `cbor:"sequence,omitempty"`
	Format    string  `cbor:"format,omitempty"`
	Width     int     `cbor:"width,omitempty"`
	Height    int     `cbor:"height,omitempty"`
	Connected bool    `cbor:"connected"`
	Time      float64 `cbor:"time"`
	Data      []byte  `cbor:"data,omitempty"`
}

// EncodeAnnouncement returns the topic and CBOR body for ev, or ok=false when
// the event is not published.
func EncodeAnnouncement(ev client.Event) (topic string, body []byte, ok bool, err error) {
	a := Announcement{
		Session:   ev.Session,
		Connected: ev.Connected,
		Time:      float64(ev.At.UnixNano()) / 1e9,
	}
	switch ev.Kind {
	case client.EventImageReceived:
		if ev.Image == nil {
			return "", nil, false, nil
		}
		a.Type = "image"
		a.Class = ev.Class.String()
		a.Sequence = ev.Sequence
		a.Format = ev.Image.Format
		a.Width = ev.Image.Width
		a.Height = ev.Image.Height
		a.Data = ev.Image.Encoded
		topic = a.Class
	case client.EventConnectionChanged:
		a.Type = "status"
		topic = "status"
	default:
		return "", nil, false, nil
	}
	body, err = cbor.Marshal(a)
	if err != nil {
		return "", nil, false, err
	}
	return topic, body, true, nil
}

func DecodeAnnouncement(body []byte) (Announcement, error) {
	var a Announcement
	err := cbor.Unmarshal(body, &a)
	return a, err
}

// ZMQPublisher republishes events on a PUB socket as [topic, CBOR body].
type ZMQPublisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket
}

func NewZMQPublisher(endpoint string) (*ZMQPublisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	return &ZMQPublisher{socket: socket}, nil
}

func (p *ZMQPublisher) Name() string {
	return "zmq"
}

func (p *ZMQPublisher) Handle(_ context.Context, ev client.Event) error {
	topic, body, ok, err := EncodeAnnouncement(ev)
	if err != nil || !ok {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.socket.SendMessage(topic, body)
	return err
}

func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket.Close()
}
