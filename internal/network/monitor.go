// Package network tracks connectivity for the sync core.
package network

import (
	"fmt"
	"sync"

	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/metrics"
)

// Monitor is the single source of truth for whether the remote service is
// reachable. Subscribers are told about transitions only; repeating the
// current state is ignored.
type Monitor struct {
	// delivering serializes Set so subscribers see transitions in the
	// order the state changed.
	delivering sync.Mutex

	mu     sync.Mutex
	online bool
	nextID uint64
	subs   []subscriber
	pub    events.Publisher
}

type subscriber struct {
	id uint64
	fn func(online bool)
}

// NewMonitor creates a Monitor in the given initial state. pub may be nil;
// otherwise every transition is published as events.NetworkStatus.
func NewMonitor(initial bool, pub events.Publisher) *Monitor {
	metrics.SetOnline(initial)
	return &Monitor{
		online: initial,
		pub:    pub,
	}
}

// IsOnline returns the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for state transitions and returns a func that
// removes it.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Set records a connectivity signal and reports whether it changed the
// state. Subscribers run synchronously on the caller's goroutine and must
// not call Set themselves.
func (m *Monitor) Set(online bool) bool {
	m.delivering.Lock()
	defer m.delivering.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	metrics.SetOnline(online)
	status := "offline"
	if online {
		status = "online"
	}
	logging.Info("Network status changed", map[string]interface{}{
		"status": status,
	})

	if m.pub != nil {
		m.pub.Publish(events.NetworkStatus{Online: online})
	}
	for _, s := range subs {
		notify(s.fn, online)
	}
	return true
}

func notify(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Network subscriber failed", fmt.Errorf("%v", r), map[string]interface{}{
				"online": online,
			})
		}
	}()
	fn(online)
}
