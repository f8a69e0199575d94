package httpapi

import (
	"log"
	"net/http"
	"time"

	"qms/waitless-service/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const realtimeBuffer = 16

// NewRealtimeHandler serves the SockJS endpoint under /realtime. Clients send
// join/leave messages and receive queue events for the topics they joined.
func NewRealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		serveRealtimeSession(h, session)
	})
}

// realtimeSession is the part of sockjs.Session the subscription loop uses.
type realtimeSession interface {
	Recv() (string, error)
	Send(string) error
}

func serveRealtimeSession(h *hub.Hub, session realtimeSession) {
	client := hub.NewClient(uuid.NewString(), realtimeBuffer)
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe([]byte(raw))
		if !ok {
			h.Reply(client, hub.Event{Type: "error", Payload: "unsupported message", CreatedAt: time.Now().UTC()})
			continue
		}
		topic := msg.Topic()
		if msg.Action == hub.ActionLeave {
			h.Leave(client, topic)
			h.Reply(client, hub.Event{Type: "left", Topic: topic, CreatedAt: time.Now().UTC()})
			continue
		}
		h.Join(client, topic)
		log.Printf("realtime join client=%s topic=%s", client.ID, topic)
		h.Reply(client, hub.Event{Type: "joined", Topic: topic, CreatedAt: time.Now().UTC()})
	}
}
