// ABOUTME: In-memory fan-out broadcaster for backend stream events.
// ABOUTME: Segregates the process-wide delivery channel down to the one event shape the core needs.

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/codelane/chatkit/internal/backend"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for backend stream events. The
// backend publishes; the orchestrator (and any observers, like a UI layer)
// subscribe. Correlation by request id happens on the consumer side.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *backend.StreamEvent
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *backend.StreamEvent),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for all stream events. Returns a receive
// channel and a subscription id for later unsubscription. The subscription is
// cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *backend.StreamEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *backend.StreamEvent, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers an event to every subscriber. Non-blocking: events are
// dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(evt *backend.StreamEvent) {
	b.mu.RLock()
	targets := make([]chan *backend.StreamEvent, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"request_id", evt.RequestID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
