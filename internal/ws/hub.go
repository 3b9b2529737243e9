package ws

import (
	"encoding/json"
	"time"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// LogEvent is one service log line streamed to pod watchers.
type LogEvent struct {
	PodID   string    `json:"pod_id"`
	Service string    `json:"service"`
	Line    string    `json:"line"`
	Time    time.Time `json:"time"`
}

// Hub fans service log lines out to every client watching a pod. All
// bookkeeping happens on the run goroutine; the exported methods only
// exchange messages with it.
type Hub struct {
	watchers  map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	podID   string
	payload []byte
}

type subscription struct {
	podID  string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		watchers:  make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.watchers[sub.podID]; !ok {
				h.watchers[sub.podID] = make(map[Subscriber]struct{})
			}
			h.watchers[sub.podID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.watchers[sub.podID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.watchers, sub.podID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.watchers[msg.podID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.watchers, msg.podID)
				}
			}
		}
	}
}

// Register adds a client to a pod's log stream.
func (h *Hub) Register(podID string, client Subscriber) {
	h.register <- subscription{podID: podID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(podID string, client Subscriber) {
	h.unreg <- subscription{podID: podID, client: client}
}

// Publish sends a log event to every client watching the pod.
func (h *Hub) Publish(event LogEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast <- message{podID: event.PodID, payload: payload}
}
