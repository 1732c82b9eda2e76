package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/event"
)

const streamPrefix = "agora:district:"

// StreamSink publishes district events onto Redis Streams, one stream per
// district, so other city services can tail them.
type StreamSink struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStreamSink connects to Redis and returns a ready sink.
func NewStreamSink(redisURL string, logger *zap.Logger) (*StreamSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StreamSink{rdb: rdb, logger: logger}, nil
}

func (*StreamSink) Name() string { return "redis-stream" }

// Deliver appends the event to its district's stream.
func (s *StreamSink) Deliver(ctx context.Context, ev event.Event) error {
	env := Envelop(ev)
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	stream := streamPrefix + env.District
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	s.logger.Debug("event published",
		zap.String("stream", stream),
		zap.String("type", env.Type))
	return nil
}

// Tail reads events from a district's stream, emitting them on a channel
// until the context is canceled.
func (s *StreamSink) Tail(ctx context.Context, districtID string) <-chan Envelope {
	ch := make(chan Envelope, 16)
	stream := streamPrefix + districtID

	go func() {
		defer close(ch)
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var env Envelope
					if json.Unmarshal([]byte(data), &env) == nil {
						ch <- env
					}
				}
			}
		}
	}()
	return ch
}

func (s *StreamSink) Close() error {
	return s.rdb.Close()
}
