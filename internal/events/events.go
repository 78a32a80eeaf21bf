// Package events broadcasts scheduler lifecycle transitions to websocket
// subscribers, per §4.9 of the runtime specification. It is pure
// observability: Publish is fire-and-forget and the scheduler's control
// flow never depends on whether anything is listening. The HTTP surface
// follows the teacher's health-check webserver shape
// (internal/app/healthcheck_webserver.go) — a net/http.ServeMux handler
// started on its own goroutine — with gorilla/websocket doing the
// upgrade and per-connection framing.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vk/taskmesh/internal/ctxlog"
)

// Type names a scheduler lifecycle transition.
type Type string

const (
	TaskReady       Type = "task_ready"
	TaskRunning     Type = "task_running"
	TaskComplete    Type = "task_complete"
	BufferAllocated Type = "buffer_allocated"
	BufferReused    Type = "buffer_reused"
)

// Event is the wire shape published to every subscriber.
type Event struct {
	Type    Type      `json:"type"`
	Task    string    `json:"task,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	AtNanos time.Time `json:"at"`
}

// subscriberQueueDepth bounds how far a slow subscriber can lag before
// Publish starts dropping events for it rather than blocking the caller.
const subscriberQueueDepth = 64

// Broadcaster fans Publish calls out to every connected websocket client.
// The zero value is not usable; construct with NewBroadcaster.
type Broadcaster struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster(ctx context.Context) *Broadcaster {
	return &Broadcaster{
		logger:      ctxlog.FromContext(ctx),
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subscribers: make(map[chan Event]struct{}),
	}
}

// Publish fans ev out to every subscriber without blocking. A subscriber
// whose queue is full has the event dropped for it; every other
// subscriber still receives it.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("events: subscriber queue full, dropping event", "type", ev.Type)
		}
	}
}

func (b *Broadcaster) subscribe() chan Event {
	ch := make(chan Event, subscriberQueueDepth)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the request to a websocket and streams every
// subsequently published Event to it as JSON until the client disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("events: websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	b.logger.Debug("events: subscriber connected", "remote_addr", r.RemoteAddr)
	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			b.logger.Debug("events: subscriber write failed, disconnecting", "error", err, "remote_addr", r.RemoteAddr)
			return
		}
	}
}
