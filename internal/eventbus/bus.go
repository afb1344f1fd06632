// Package eventbus is the in-process fanout between the dispatcher and its
// observers (the dose journal and delivery logging).
package eventbus

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const defaultBuffer = 8

// Event types are dotted; subscribers filter on prefixes such as "dose.".
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers without blocking the publisher. A subscriber whose buffer is
// full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory Bus. It starts no goroutines.
func New() Bus { return &memBus{} }

type subscription struct {
	ch       chan Event
	prefixes []string
}

func (s *subscription) matches(typ string) bool {
	return len(s.prefixes) == 0 || slices.ContainsFunc(s.prefixes, func(p string) bool {
		return strings.HasPrefix(typ, p)
	})
}

// memBus holds mu for reading across a fanout, so a channel is only closed
// when no send can be in progress.
type memBus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.matches(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe with no prefixes receives every event. Unsubscribe is
// idempotent and closes the channel; already buffered events stay readable.
func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscription{ch: make(chan Event, buffer), prefixes: slices.Clone(prefixes)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(x *subscription) bool { return x == s })
			close(s.ch)
		})
	}
}
