package client

import (
	"sync"
	"time"

	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/store"
)

type EventKind int

const (
	EventConnectionChanged EventKind = iota + 1
	EventConnectFailed
	EventImageReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionChanged:
		return "connection_changed"
	case EventConnectFailed:
		return "connect_failed"
	case EventImageReceived:
		return "image_received"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners in the order it was raised.
type Event struct {
	Kind      EventKind
	At        time.Time
	Session   string
	Address   string
	Connected bool
	Reason    string
	Err       error
	Class     store.ImageClass
	Sequence  uint64
	Image     *codec.Image
}

type Listener func(Event)

// connectionReserve keeps room in the queue for connection events so that
// a flood of arrivals cannot crowd them out.
const connectionReserve = 8

type dispatcher struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener

	queue chan Event
	quit  chan struct{}
	done  chan struct{}
}

func newDispatcher(size int) *dispatcher {
	if size < connectionReserve*2 {
		size = connectionReserve * 2
	}
	d := &dispatcher{
		listeners: make(map[int]Listener),
		queue:     make(chan Event, size),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(l Listener) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// publish enqueues ev. Connection events wait for room; arrivals are
// dropped when the shared part of the queue is full and publish returns false.
func (d *dispatcher) publish(ev Event) bool {
	if ev.Kind == EventImageReceived {
		if len(d.queue) >= cap(d.queue)-connectionReserve {
			return false
		}
		select {
		case d.queue <- ev:
			return true
		case <-d.quit:
			return false
		default:
			return false
		}
	}
	select {
	case d.queue <- ev:
		return true
	case <-d.quit:
		return false
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			d.drain()
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

func (d *dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *dispatcher) deliver(ev Event) {
	d.mu.Lock()
	listeners := make([]Listener, 0, len(d.listeners))
	for id := 0; id < d.nextID; id++ {
		if l, ok := d.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	d.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (d *dispatcher) close() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
}
