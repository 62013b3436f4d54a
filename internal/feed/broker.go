package feed

import (
	"log/slog"
	"sync"

	"agency-chat/internal/observability"
)

// Op is the row operation carried by a change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	// OpResync means changes may have been missed and subscribers should
	// reload from the database.
	OpResync Op = "RESYNC"
)

// Change is one row-change notification on the messages table.
type Change struct {
	Op             Op     `json:"op"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
}

// Filter selects changes. Empty fields match anything.
type Filter struct {
	ConversationID string
	Op             Op
}

// Match reports whether c passes the filter. Resync changes match every filter.
func (f Filter) Match(c Change) bool {
	if c.Op == OpResync {
		return true
	}
	if f.ConversationID != "" && f.ConversationID != c.ConversationID {
		return false
	}
	if f.Op != "" && f.Op != c.Op {
		return false
	}
	return true
}

const defaultBufferSize = 64

// Broker fans changes out to subscribers. Each subscriber gets its own
// goroutine, so handlers see changes in publish order.
type Broker struct {
	mu         sync.RWMutex
	subs       map[uint64]*subscriber
	next       uint64
	bufferSize int
	closed     bool
	log        *slog.Logger
}

type subscriber struct {
	filter  Filter
	handler func(Change)
	events  chan Change
	done    chan struct{}
}

// NewBroker creates a Broker. bufferSize <= 0 selects the default.
func NewBroker(logger *slog.Logger, bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:       make(map[uint64]*subscriber),
		bufferSize: bufferSize,
		log:        logger,
	}
}

// Subscribe registers handler for changes matching filter.
func (b *Broker) Subscribe(filter Filter, handler func(Change)) *Subscription {
	s := &subscriber{
		filter:  filter,
		handler: handler,
		events:  make(chan Change, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.done)
		return &Subscription{}
	}
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()
	observability.SetFeedSubscribers(b.Len())

	go s.run()

	return &Subscription{cancel: func() { b.remove(id) }}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case c := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(c)
		}
	}
}

// Publish delivers c to every matching subscriber. A subscriber whose
// buffer is full loses its oldest pending change to make room.
func (b *Broker) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.filter.Match(c) {
			continue
		}
		for _, dropped := range s.offer(c) {
			observability.IncFeedDropped()
			b.log.Warn("feed subscriber is lagging, oldest change dropped",
				"conversation_id", dropped.ConversationID, "message_id", dropped.ID)
		}
	}
}

// offer enqueues c, evicting from the head of the buffer until it fits.
func (s *subscriber) offer(c Change) []Change {
	var dropped []Change
	for {
		select {
		case s.events <- c:
			return dropped
		default:
		}
		select {
		case old := <-s.events:
			dropped = append(dropped, old)
		default:
		}
	}
}

// Resync tells every subscriber that changes may have been lost.
func (b *Broker) Resync() {
	b.Publish(Change{Op: OpResync})
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops every subscriber. Later Subscribe calls return inert subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, s := range subs {
		close(s.done)
	}
	observability.SetFeedSubscribers(0)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(s.done)
	}
	observability.SetFeedSubscribers(b.Len())
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close stops delivery. It is safe to call more than once and on nil.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
