package hub

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	ActionJoinDepartment = "join-department"
	ActionJoinUser       = "join-user"
	ActionTrackTicket    = "track-ticket"
	ActionLeave          = "leave"
)

func DepartmentTopic(id string) string { return "department-" + id }
func UserTopic(id string) string       { return "user-" + id }
func TicketTopic(id string) string     { return "ticket-" + id }

var topicPrefixes = []string{"department-", "user-", "ticket-"}

// IsTopic reports whether name is a full topic name such as department-<id>.
func IsTopic(name string) bool {
	for _, prefix := range topicPrefixes {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return true
		}
	}
	return false
}

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer), topics: make(map[string]struct{})}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Topic returns the room a message targets. Leave messages carry the full
// topic name, or no id to leave everything.
func (m SubscribeMessage) Topic() string {
	switch m.Action {
	case ActionJoinDepartment:
		return DepartmentTopic(m.ID)
	case ActionJoinUser:
		return UserTopic(m.ID)
	case ActionTrackTicket:
		return TicketTopic(m.ID)
	default:
		return m.ID
	}
}

type Event struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Join(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.topics[topic] = struct{}{}
}

// Leave drops one topic, or every topic when topic is empty.
func (h *Hub) Leave(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if topic == "" {
		client.topics = make(map[string]struct{})
		return
	}
	delete(client.topics, topic)
}

func (h *Hub) Subscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.topics[topic]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers the event once to every client subscribed to at least one
// of the topics. A client whose buffer is full misses the message.
func (h *Hub) Publish(eventType string, payload interface{}, topics ...string) {
	if len(topics) == 0 {
		return
	}
	data, err := json.Marshal(Event{Type: eventType, Payload: payload, CreatedAt: time.Now().UTC()})
	if err != nil {
		log.Printf("hub encode error type=%s err=%v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !subscribedAny(client, topics) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.Printf("drop message for client %s type=%s", client.ID, eventType)
		}
	}
}

// Reply queues a message for a single client without topic routing.
func (h *Hub) Reply(client *Client, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
		log.Printf("drop message for client %s type=%s", client.ID, event.Type)
	}
}

func subscribedAny(client *Client, topics []string) bool {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := client.topics[topic]; ok {
			return true
		}
	}
	return false
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.ID = strings.TrimSpace(msg.ID)
	switch msg.Action {
	case ActionJoinDepartment, ActionJoinUser, ActionTrackTicket:
		if msg.ID == "" {
			return SubscribeMessage{}, false
		}
	case ActionLeave:
		if msg.ID != "" && !IsTopic(msg.ID) {
			return SubscribeMessage{}, false
		}
	default:
		return SubscribeMessage{}, false
	}
	return msg, true
}
