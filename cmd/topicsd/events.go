package main

import (
	"sync"

	"github.com/rexliu/topics/pkg/ipc"
)

// treeChangedEvent is broadcast after every successful mutation.
type treeChangedEvent struct {
	Type       string   `json:"type"`
	Version    string   `json:"version"`
	TopicCount int      `json:"topicCount"`
	Ops        []string `json:"ops,omitempty"`
}

// eventHub broadcasts tree_changed events to connected clients.
type eventHub struct {
	logger  ipc.Logger
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	send chan any
}

func newEventHub(logger ipc.Logger) *eventHub {
	return &eventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) register() *eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := &eventClient{send: make(chan any, 16)}
	h.clients[client] = struct{}{}
	return client
}

func (h *eventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast never blocks; a full client buffer drops the event for that client.
func (h *eventHub) broadcast(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			eventsDropped.Inc()
			if h.logger != nil {
				h.logger.Printf("dropping event for slow client")
			}
		}
	}
}
