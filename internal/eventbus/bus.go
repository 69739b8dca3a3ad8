package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by proxywatch components.
const (
	TypeTick           = "monitor.tick"
	TypeLoopStarted    = "monitor.started"
	TypeLoopStopped    = "monitor.stopped"
	TypeNotifySent     = "notifier.sent"
	TypeNotifyFailed   = "notifier.failed"
	TypeCommandHandled = "router.command"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish holds the read lock while sending so an unsubscribe cannot close
// a channel mid-send.
func (b *MemBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
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

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped counts events lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// CommandEvent is the Data of router.command events.
type CommandEvent struct {
	Command string        `json:"command"`
	OK      bool          `json:"ok"`
	Took    time.Duration `json:"took"`
}
