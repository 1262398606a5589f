package stats

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultEventBuffer = 256

// EventMessage is the JSON published for each pipeline event.
type EventMessage struct {
	Name   string         `json:"name"`
	Op     string         `json:"op"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// EventStream publishes pipeline events on a redis channel from a single
// background goroutine. Send never blocks; events are dropped when the
// buffer is full.
type EventStream struct {
	rdb     *redis.Client
	channel string
	ch      chan []byte
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewEventStream(rdb *redis.Client, channel string, buffer int) *EventStream {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	s := &EventStream{
		rdb:     rdb,
		channel: channel,
		ch:      make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *EventStream) Send(name, op string, fields map[string]any) {
	b, err := json.Marshal(EventMessage{Name: name, Op: op, Fields: fields, At: time.Now().UTC()})
	if err != nil {
		s.dropped.Add(1)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- b:
	default:
		s.dropped.Add(1)
	}
}

func (s *EventStream) loop() {
	defer close(s.done)
	for b := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.rdb.Publish(ctx, s.channel, b).Err(); err != nil {
			s.dropped.Add(1)
		} else {
			s.sent.Add(1)
		}
		cancel()
	}
}

// Close flushes buffered events, waiting up to ctx.
func (s *EventStream) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EventStream) Channel() string { return s.channel }

// Sent and Dropped count delivered and discarded events.
func (s *EventStream) Sent() int64    { return s.sent.Load() }
func (s *EventStream) Dropped() int64 { return s.dropped.Load() }
