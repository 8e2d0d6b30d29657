// Package events provides the typed publish/subscribe bus the sync core uses
// to notify UI collaborators.
package events

import (
	"fmt"
	"sync"

	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/models"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeSyncStart         Type = "sync-start"
	TypeSyncProgress      Type = "sync-progress"
	TypeSyncComplete      Type = "sync-complete"
	TypeEntityFavorited   Type = "entity-favorited"
	TypeEntityUnfavorited Type = "entity-unfavorited"
	TypeEntityUploaded    Type = "entity-uploaded"
	TypeNetworkStatus     Type = "network-status"
)

// Event is one of the event structs below.
type Event interface {
	Type() Type
	isEvent()
}

// SyncStart is published when a drain begins with pending items.
type SyncStart struct {
	Total int `json:"total"`
}

// SyncProgress is published after each drained item.
type SyncProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// SyncComplete summarizes a drain.
type SyncComplete struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// EntityFavorited is published when a story is saved to Favorites.
type EntityFavorited struct {
	ID string `json:"id"`
}

// EntityUnfavorited is published when a story is removed from Favorites.
type EntityUnfavorited struct {
	ID string `json:"id"`
}

// EntityUploaded is published when a queued story reaches the server.
type EntityUploaded struct {
	TempID string        `json:"tempId"`
	Story  *models.Story `json:"story"`
}

// NetworkStatus is published on every connectivity transition.
type NetworkStatus struct {
	Online bool `json:"online"`
}

func (SyncStart) Type() Type         { return TypeSyncStart }
func (SyncProgress) Type() Type      { return TypeSyncProgress }
func (SyncComplete) Type() Type      { return TypeSyncComplete }
func (EntityFavorited) Type() Type   { return TypeEntityFavorited }
func (EntityUnfavorited) Type() Type { return TypeEntityUnfavorited }
func (EntityUploaded) Type() Type    { return TypeEntityUploaded }
func (NetworkStatus) Type() Type     { return TypeNetworkStatus }

func (SyncStart) isEvent()         {}
func (SyncProgress) isEvent()      {}
func (SyncComplete) isEvent()      {}
func (EntityFavorited) isEvent()   {}
func (EntityUnfavorited) isEvent() {}
func (EntityUploaded) isEvent()    {}
func (NetworkStatus) isEvent()     {}

// Handler receives published events.
type Handler func(Event)

// Publisher is the publishing side of a Bus.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers every published event to all current subscribers,
// synchronously and in subscription order. A panicking handler is logged
// and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
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

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, e)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Event handler panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"event": string(e.Type()),
			})
		}
	}()
	h(e)
}
