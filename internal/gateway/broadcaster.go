package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/event"
)

// deliverTimeout bounds how long one sink may take per event.
const deliverTimeout = 10 * time.Second

// Broadcaster fans district events out to all registered sinks.
type Broadcaster struct {
	sinks  []Sink
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with no sinks.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Register adds a sink.
func (b *Broadcaster) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
	b.logger.Info("broadcast sink registered", zap.String("sink", s.Name()))
}

// Broadcast delivers an event to every sink without waiting for any of
// them. Sink errors and panics are logged and swallowed.
func (b *Broadcaster) Broadcast(ev event.Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		go func(s Sink) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("broadcast sink panicked",
						zap.String("sink", s.Name()),
						zap.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			defer cancel()
			if err := s.Deliver(ctx, ev); err != nil {
				b.logger.Warn("broadcast delivery failed",
					zap.String("sink", s.Name()),
					zap.String("district", ev.District()),
					zap.Error(err))
			}
		}(s)
	}
}

// Close shuts down all sinks.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			b.logger.Warn("sink close failed",
				zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	b.sinks = nil
}
