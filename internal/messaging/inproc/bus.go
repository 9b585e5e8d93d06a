// Package inproc fans task events out to in-process subscribers.
package inproc

import (
	"errors"
	"fmt"
	"sync"

	"flame_academy/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.TaskEvent
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.TaskEvent),
		buffer: buffer,
	}
}

// Subscribe returns the event channel for id, creating it on first use.
func (b *Bus) Subscribe(id string) <-chan domain.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		return ch
	}
	ch := make(chan domain.TaskEvent, b.buffer)
	b.subs[id] = ch
	return ch
}

// Unsubscribe closes the subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish never blocks. Subscribers with a full queue miss the event and are
// reported in the returned error; everyone else still receives it.
func (b *Bus) Publish(event domain.TaskEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped []string
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	if len(dropped) > 0 {
		return fmt.Errorf("%w: %v", ErrSubscriberQueueFull, dropped)
	}
	return nil
}
