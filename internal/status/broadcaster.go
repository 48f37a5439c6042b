// Package status fans scheduler snapshots out to observers.
package status

import (
	"sync"

	"github.com/Veraticus/mailtally/internal/model"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe gets a non-positive size.
const DefaultBuffer = 16

// Broadcaster delivers snapshots to every subscriber. Publish never blocks:
// when a subscriber's queue is full the oldest queued snapshot is dropped so
// the newest state always arrives.
type Broadcaster struct {
	subs   map[int]chan model.Snapshot
	nextID int
	mu     sync.Mutex
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan model.Snapshot)}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan model.Snapshot, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan model.Snapshot, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Publish sends snap to all subscribers.
func (b *Broadcaster) Publish(snap model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		for {
			select {
			case ch <- snap:
			default:
				// Full: drop the oldest and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close unsubscribes everyone.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
