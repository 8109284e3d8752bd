// Package realtime implements the change-event push channel: mutations
// publish events keyed by topic, and subscribed websocket clients receive
// them and re-run the affected queries.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a committed-change announcement pushed to subscribers. Data
// carries just enough for the client to decide what to re-fetch.
type Event struct {
	Topic string          `json:"topic"`
	Name  string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event for the given topic
func NewEvent(topic, name string, data interface{}) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		// data is always a struct of ids assembled by handlers
		raw = nil
	}
	return Event{Topic: topic, Name: name, Data: raw}
}

// UserTopic carries events addressed to a single user (notifications,
// friend events, conversation list changes)
func UserTopic(id uuid.UUID) string {
	return "user:" + id.String()
}

// ConversationTopic carries events about one conversation (messages,
// reactions, typing)
func ConversationTopic(id uuid.UUID) string {
	return "conversation:" + id.String()
}

type subscription struct {
	client *Client
	topic  string
}

// Hub maintains the set of active clients and routes events to topic
// subscribers.
type Hub struct {
	logger *zap.SugaredLogger

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscription
	unsubscribe chan *subscription
	events      chan Event

	// topic -> subscribed clients; guarded by mu for the synchronous
	// Subscribers helper used in tests
	mu     sync.RWMutex
	topics map[string]map[*Client]bool
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:      logger,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan *subscription),
		unsubscribe: make(chan *subscription),
		events:      make(chan Event, 64),
		topics:      make(map[string]map[*Client]bool),
	}
}

// Run starts the hub's processing loop
func (h *Hub) Run() {
	h.logger.Info("Realtime hub started")
	for {
		select {
		case client := <-h.register:
			h.logger.Debugf("Client registered for user (%s)", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			for topic := range client.topics {
				h.dropLocked(topic, client)
			}
			h.mu.Unlock()
			close(client.send)
			h.logger.Debugf("Client unregistered for user (%s)", client.userID)

		case sub := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.topics[sub.topic]; !ok {
				h.topics[sub.topic] = make(map[*Client]bool)
			}
			h.topics[sub.topic][sub.client] = true
			sub.client.topics[sub.topic] = true
			h.mu.Unlock()

		case sub := <-h.unsubscribe:
			h.mu.Lock()
			h.dropLocked(sub.topic, sub.client)
			delete(sub.client.topics, sub.topic)
			h.mu.Unlock()

		case event := <-h.events:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Errorf("marshaling event %q: %v", event.Name, err)
				continue
			}

			h.mu.RLock()
			for client := range h.topics[event.Topic] {
				select {
				case client.send <- payload:
				default:
					// slow consumer; delivery is best effort
					h.logger.Debugf("Send buffer full for user (%s), event dropped", client.userID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues an event for delivery to every subscriber of its topic.
// Never blocks the mutation path.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warnf("Event queue full, dropping %q on topic %q", event.Name, event.Topic)
	}
}

// Subscribers reports how many clients are subscribed to a topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) dropLocked(topic string, client *Client) {
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}
