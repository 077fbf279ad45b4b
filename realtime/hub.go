package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisChannel   = "chatbot:realtime"
	publishTimeout = 2 * time.Second
	defaultBuffer  = 64
)

// Subscriber is one connection's view of a channel.
type Subscriber struct {
	channel  string
	projects map[uint64]struct{}
	send     chan Event
}

// Events is closed when the hub drops the subscriber.
func (s *Subscriber) Events() <-chan Event {
	return s.send
}

func (s *Subscriber) wants(event Event) bool {
	if event.Channel != s.channel {
		return false
	}
	if s.projects == nil {
		return true
	}
	_, ok := s.projects[event.ProjectID]
	return ok
}

// Hub delivers events to local subscribers and, when redis is attached, to other instances.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	redis       *redis.Client
	nodeID      string
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		redis:       client,
		nodeID:      uuid.NewString(),
	}
}

// Subscribe registers a subscriber. For the dashboard channel, projectIDs limits
// delivery to those projects; widget subscribers pass nil.
func (h *Hub) Subscribe(channel string, projectIDs []uint64, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscriber{channel: channel, send: make(chan Event, buffer)}
	if channel == ChannelDashboard {
		sub.projects = make(map[uint64]struct{}, len(projectIDs))
		for _, id := range projectIDs {
			sub.projects[id] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its event channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
}

// Publish delivers locally and forwards the event to the other instances.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.deliver(event)

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: h.nodeID, Event: event})
	if err != nil {
		log.Warn("realtime: encode envelope", "type", event.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.redis.Publish(ctx, redisChannel, payload).Err(); err != nil {
		log.Warn("realtime: redis publish failed", "type", event.Type, "err", err)
	}
}

func (h *Hub) deliver(event Event) {
	var slow []*Subscriber

	h.mu.RLock()
	for sub := range h.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.send <- event:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Warn("realtime: subscriber too slow, dropping", "channel", sub.channel)
		h.Unsubscribe(sub)
	}
}

// Run relays events published by other instances until ctx is cancelled.
// Without redis it only waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := h.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.relay([]byte(msg.Payload))
		}
	}
}

func (h *Hub) relay(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn("realtime: decode envelope", "err", err)
		return
	}
	if env.Origin == h.nodeID {
		return
	}
	h.deliver(env.Event)
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
