// Package eventbus is an in-memory, non-blocking fan-out of small events
// between the monitor engines, the notifier and the app.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by this module.
const (
	AccountAdded      = "monitor.account_added"
	AccountRemoved    = "monitor.account_removed"
	AccountTransition = "monitor.transition"
	AccountRecovered  = "monitor.recovered"
	PersistFailed     = "monitor.persist_failed"
	PoolDegraded      = "monitor.pool_degraded"
	NotifySent        = "notifier.sent"
	NotifyFailed      = "notifier.failed"
	ConfigReloaded    = "config.reloaded"
)

// Event carries a type, a timestamp and a small payload.
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
