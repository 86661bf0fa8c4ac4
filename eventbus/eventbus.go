// Package eventbus is a per-run publish/subscribe fanout for persisted
// events, feeding SSE streams and CLI renderers.
package eventbus

import (
	"sync"

	"github.com/codemender/codemender/model"
)

// Bus delivers run events to any number of subscribers per run ID.
type Bus interface {
	Publish(runID string, event *model.Event)
	Subscribe(runID string) <-chan *model.Event
	Unsubscribe(runID string, ch <-chan *model.Event)
	Close(runID string)
}

// subscriberBuffer bounds each subscriber channel. A slow consumer drops
// events rather than blocking the publisher.
const subscriberBuffer = 64

// InMemoryBus is the standard single-process Bus.
type InMemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan *model.Event)}
}

// Publish sends event to every subscriber of runID without blocking.
func (b *InMemoryBus) Publish(runID string, event *model.Event) {
	b.mu.Lock()
	subs := b.subs[runID]
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new listener for runID.
func (b *InMemoryBus) Subscribe(runID string) <-chan *model.Event {
	ch := make(chan *model.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[runID] = append(b.subs[runID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *InMemoryBus) Unsubscribe(runID string, ch <-chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[runID]
	for i, s := range subs {
		if s == ch {
			b.subs[runID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(b.subs[runID]) == 0 {
		delete(b.subs, runID)
	}
}

// Close drops all subscribers for a finished run.
func (b *InMemoryBus) Close(runID string) {
	b.mu.Lock()
	subs := b.subs[runID]
	delete(b.subs, runID)
	b.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}
