package event

import (
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer bounds each subscriber channel. A slow subscriber drops
// events rather than stalling the engine.
const subscriberBuffer = 64

// Dispatcher fans events out to subscribers. Publishing never blocks.
type Dispatcher struct {
	subs   map[int]chan Event
	nextID int
	mu     sync.Mutex
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe returns a receive channel and a cancel function. After cancel
// returns the channel is closed.
func (d *Dispatcher) Subscribe() (<-chan Event, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	ch := make(chan Event, subscriberBuffer)
	d.subs[id] = ch
	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if c, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for any whose
// buffer is full.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.logger.Warn("event dropped for slow subscriber",
				zap.Int("subscriber", id))
		}
	}
}
