// Package web is the SSE-push renderer (spec's "serve" CLI verb):
// an http.Handler that pushes every orchestrator.Snapshot to
// connected browsers as server-sent events, adapted from the
// teacher's internal/dashboard.SSEBroker (same register/unregister/
// broadcast channel-actor shape, same heartbeat ticker).
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event is one pushed server-sent event.
type Event struct {
	Type string
	Data any
}

// Broker fans a single Publish stream out to many SSE subscribers.
type Broker struct {
	mu         sync.RWMutex
	clients    map[chan Event]struct{}
	register   chan chan Event
	unregister chan chan Event
	broadcast  chan Event
	heartbeat  time.Duration
}

// NewBroker returns a Broker with a 30s heartbeat, matching the
// teacher's dashboard default.
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[chan Event]struct{}),
		register:   make(chan chan Event),
		unregister: make(chan chan Event),
		broadcast:  make(chan Event, 256),
		heartbeat:  30 * time.Second,
	}
}

// Run drives the broker's event loop until done is closed.
func (b *Broker) Run(done <-chan struct{}) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			b.mu.Lock()
			for ch := range b.clients {
				close(ch)
				delete(b.clients, ch)
			}
			b.mu.Unlock()
			return

		case ch := <-b.register:
			b.mu.Lock()
			b.clients[ch] = struct{}{}
			b.mu.Unlock()

		case ch := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[ch]; ok {
				close(ch)
				delete(b.clients, ch)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.fanOut(event)

		case <-ticker.C:
			b.fanOut(Event{Type: "heartbeat", Data: map[string]int64{"timestamp": time.Now().Unix()}})
		}
	}
}

func (b *Broker) fanOut(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Publish enqueues event for delivery to all subscribers. Drops the
// event (never blocks the caller) if the broadcast buffer is full.
func (b *Broker) Publish(event Event) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// Subscribe registers a new client channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.register <- ch
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.unregister <- ch
}

// ClientCount reports the number of currently connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request to an SSE stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
