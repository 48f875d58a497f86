// Package bus implements StoryFill's per-room event bus: an in-process
// publish/subscribe fanout that every room uses for WebSocket delivery,
// optionally backed by Redis (gobreaker-wrapped publish, a single shared
// channel carrying every room's events, graceful degradation on broker
// failure) so multiple server instances can share a room's event stream.
// The in-process path is always authoritative; a single room always
// lives on exactly one process regardless of whether Redis is wired in.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"storyfill/internal/logging"
	"storyfill/internal/metrics"
)

// Event is one room-scoped message published on the bus. Seq gives
// subscribers per-room ordering even when delivery is at-least-once.
type Event struct {
	RoomID  string          `json:"room_id"`
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription is a single subscriber's view of a room's event stream.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

type subscriber struct {
	id string
	ch chan Event
}

// Bus fans out events published for a room to every local subscriber
// (WebSocket hub clients), and optionally mirrors publishes to Redis so
// sibling instances can relay them to their own local subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*subscriber // roomID -> subscriberID -> subscriber

	redis *redisBackend

	nextSubID uint64
}

// New returns an in-process-only Bus. Safe for concurrent use.
func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*subscriber)}
}

// NewWithRedis returns a Bus that also mirrors publishes to Redis and
// relays remote publishes into local subscribers via a dial/ping/
// circuit-breaker setup.
func NewWithRedis(ctx context.Context, addr, password string) (*Bus, error) {
	b := New()
	rb, err := newRedisBackend(ctx, addr, password, b.deliverLocal)
	if err != nil {
		return nil, err
	}
	b.redis = rb
	return b, nil
}

// Subscribe registers a subscriber for a room's events. The returned
// channel is buffered; a slow consumer should drain it promptly since a
// full channel makes Publish non-blocking drop that one deliverable,
// not the whole room. A dropped event is counted and logged; it is not
// redelivered.
func (b *Bus) Subscribe(roomID string, bufferSize int) *Subscription {
	b.mu.Lock()
	b.nextSubID++
	id := fmt.Sprintf("sub_%d", b.nextSubID)
	sub := &subscriber{id: id, ch: make(chan Event, bufferSize)}
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[string]*subscriber)
	}
	b.subs[roomID][id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if room, ok := b.subs[roomID]; ok {
			delete(room, id)
			if len(room) == 0 {
				delete(b.subs, roomID)
			}
		}
	}
	return &Subscription{C: sub.ch, cancel: cancel}
}

// Publish delivers an event to every local subscriber of roomID and, if
// a Redis backend is configured, mirrors it so sibling instances can
// relay it to their own subscribers. Publish never blocks on a slow
// subscriber: a full subscriber channel drops that deliverable for that
// subscriber only, and is counted so operators can see it happening.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.deliverLocal(evt)
	if b.redis != nil {
		b.redis.publish(ctx, evt)
	}
}

func (b *Bus) deliverLocal(evt Event) {
	b.mu.RLock()
	room := b.subs[evt.RoomID]
	subs := make([]*subscriber, 0, len(room))
	for _, s := range room {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			metrics.BusPublishFailures.WithLabelValues("subscriber_buffer_full").Inc()
			logging.Warn(context.Background(), "dropped event for slow subscriber",
				zap.String("room_id", evt.RoomID), zap.String("subscriber_id", s.id), zap.String("event_type", evt.Type))
		}
	}
}

// Close tears down the Redis backend, if any.
func (b *Bus) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.close()
}

// Ping reports whether the Redis mirror, if configured, is reachable.
// A Bus with no Redis backend is always considered healthy since the
// in-process fanout has no external dependency to fail.
func (b *Bus) Ping(ctx context.Context) error {
	if b.redis == nil {
		return nil
	}
	return b.redis.client.Ping(ctx).Err()
}

// redisBackend mirrors Bus.Publish calls to Redis and relays inbound
// messages back into the local Bus so every process hosting a
// subscriber for a room sees the same event stream. The envelope
// carries only what a room needs to relay.
type redisBackend struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	relay  func(Event)

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

const redisChannel = "storyfill:events"

func newRedisBackend(ctx context.Context, addr, password string, relay func(Event)) (*redisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "storyfill_bus_redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("storyfill_bus_redis").Set(v)
		},
	}

	rb := &redisBackend{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		relay:  relay,
		cancel: make(map[string]context.CancelFunc),
	}

	sub := client.Subscribe(ctx, redisChannel)
	go rb.listen(sub)

	return rb, nil
}

func (rb *redisBackend) listen(sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for msg := range ch {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logging.Error(context.Background(), "bus: failed to decode relayed event", zap.Error(err))
			continue
		}
		rb.relay(evt)
	}
}

func (rb *redisBackend) publish(ctx context.Context, evt Event) {
	_, err := rb.cb.Execute(func() (any, error) {
		data, err := json.Marshal(evt)
		if err != nil {
			return nil, err
		}
		return nil, rb.client.Publish(ctx, redisChannel, data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.BusPublishFailures.WithLabelValues("circuit_open").Inc()
			return
		}
		metrics.BusPublishFailures.WithLabelValues("redis_error").Inc()
		logging.Error(ctx, "bus: redis publish failed", zap.String("room_id", evt.RoomID), zap.Error(err))
	}
}

func (rb *redisBackend) close() error {
	return rb.client.Close()
}
