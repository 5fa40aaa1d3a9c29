package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by hourkeep components.
const (
	// TypeMissedChanged carries the new missed-hour count (int).
	TypeMissedChanged = "activity.missed_changed"
	// TypeReminderDue carries the missed hour markers ([]time.Time).
	TypeReminderDue = "activity.reminder_due"
	// TypeRecorded carries the hour markers just recorded ([]time.Time).
	TypeRecorded = "activity.recorded"
)

// Event is a lightweight, in-memory signal used to decouple the
// scheduler core from whatever renders its state.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// MissedChanged builds a TypeMissedChanged event.
func MissedChanged(count int) Event {
	return Event{Type: TypeMissedChanged, Data: count}
}

// ReminderDue builds a TypeReminderDue event.
func ReminderDue(hours []time.Time) Event {
	return Event{Type: TypeReminderDue, Data: hours}
}

// Recorded builds a TypeRecorded event.
func Recorded(hours []time.Time) Event {
	return Event{Type: TypeRecorded, Data: hours}
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
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
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
