// Package events broadcasts consent decisions to interested collaborators.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"consentkit/internal/consent/models"
)

// Handler reacts to a consent change. Handlers must tolerate being invoked
// zero or many times for the same client.
type Handler func(ctx context.Context, evt models.ChangedEvent)

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus delivers events synchronously, in subscription order.
// A panicking handler is logged and does not stop delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler under name and returns a function that removes it.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish hands evt to every current subscriber.
func (b *Bus) Publish(ctx context.Context, evt models.ChangedEvent) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, evt)
	}
}

// Len reports the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(ctx context.Context, s subscription, evt models.ChangedEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "consent subscriber panicked",
				"subscriber", s.name,
				"outcome", string(evt.Outcome),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.handler(ctx, evt)
}
