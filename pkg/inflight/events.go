package inflight

import (
	"sync"

	"github.com/orneryd/inflightdb/pkg/storage"
)

// EventKind identifies what happened.
type EventKind int

const (
	DocAdded EventKind = iota
	DocDeleted
	Committed
)

func (k EventKind) String() string {
	switch k {
	case DocAdded:
		return "doc-added"
	case DocDeleted:
		return "doc-deleted"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// Event is a single lifecycle notification. DocAdded/DocDeleted events are
// emitted during the commit fold, before the engine's Commit call returns
// — per spec §4.4, Proposed is true for those until the matching
// Committed event for the same TxId is observed. Committed events always
// have Proposed == false.
type Event struct {
	Kind     EventKind
	TxId     TxId
	DocId    storage.DocID // zero value for Committed
	Proposed bool
}

// EventSink is the subscriber-facing handle returned by Handle.Subscribe.
type EventSink interface {
	// Events returns the channel this subscriber receives events on.
	// Closed when Unsubscribe is called.
	Events() <-chan Event
	// Unsubscribe detaches this subscriber from the broadcaster. Safe to
	// call more than once.
	Unsubscribe()
}

// subscriberBufferSize bounds how far a subscriber may lag before the
// broadcaster starts dropping its oldest unconsumed event rather than
// block the producer — producers never wait on subscribers (spec §5).
const subscriberBufferSize = 256

// broadcaster is a non-blocking single-producer, multi-subscriber fan-out.
// put never blocks: a full subscriber channel has its oldest event
// discarded to make room, trading history for producer liveness.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Event
	b  *broadcaster
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*subscriber]struct{})}
}

func (b *broadcaster) subscribe() EventSink {
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize), b: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) put(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// subscriber is behind: drop its oldest event and retry once
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

func (s *subscriber) Events() <-chan Event { return s.ch }

func (s *subscriber) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s]; !ok {
		return
	}
	delete(s.b.subs, s)
	close(s.ch)
}
