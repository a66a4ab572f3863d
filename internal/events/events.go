// Package events dispatches typed change events of a data source.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind is the type of a change event.
type Kind string

// Event kinds.
const (
	Sort      Kind = "sort"
	Filter    Kind = "filter"
	DataGroup Kind = "dataGroup"
	Data      Kind = "data"
	Settings  Kind = "settings"
	Load      Kind = "load"
)

// Event is one change notification.
type Event struct {
	Kind Kind
	// ColumnIDs lists the affected columns when the change is column scoped.
	ColumnIDs []string
	// RowCount is set on load events.
	RowCount int64
}

// Token identifies a subscription.
type Token string

type listener struct {
	kinds map[Kind]bool
	fn    func(Event)
}

func (l listener) wants(k Kind) bool { return len(l.kinds) == 0 || l.kinds[k] }

// Bus broadcasts events to listeners and channel subscribers.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Token]listener
	channels  map[chan Event]map[Kind]bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[Token]listener),
		channels:  make(map[chan Event]map[Kind]bool),
	}
}

// On registers fn for the given kinds, or for every kind when none are
// given. fn runs synchronously in Emit.
func (b *Bus) On(fn func(Event), kinds ...Kind) Token {
	t := Token(uuid.NewString())
	b.mu.Lock()
	b.listeners[t] = listener{kinds: kindSet(kinds), fn: fn}
	b.mu.Unlock()
	return t
}

// Off removes a listener. Unknown tokens are ignored.
func (b *Bus) Off(t Token) {
	b.mu.Lock()
	delete(b.listeners, t)
	b.mu.Unlock()
}

// Subscribe returns a buffered channel receiving events of the given kinds.
// The caller must call Unsubscribe when done.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.channels[ch] = kindSet(kinds)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.channels[ch]
	delete(b.channels, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Emit delivers e to every interested listener, then to every interested
// channel. Channel sends never block: a full channel misses the event.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.wants(e.Kind) {
			fns = append(fns, l.fn)
		}
	}
	for ch, kinds := range b.channels {
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of listeners and channels.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners) + len(b.channels)
}

func kindSet(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	m := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}
