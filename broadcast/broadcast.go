// broadcast/broadcast.go
package broadcast

import (
	"context"
	"sync"

	"github.com/wfunc/esquisse/models"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 32

// 广播接口
type Publisher interface {
	Publish(ctx context.Context, event models.Event)
}

// Observer is told about deliveries, for metrics.
type Observer interface {
	EventPublished(topic models.Topic)
	EventDropped(topic models.Topic)
	SubscribersChanged(delta int)
}

// Filter decides whether a subscription receives an event.
type Filter func(event models.Event) bool

// Subscription receives the events of one topic of one session on C. C is
// closed once the subscription ends.
type Subscription struct {
	C <-chan models.Event

	id        uint64
	topic     models.Topic
	sessionID string
	filter    Filter
	ch        chan models.Event
	bus       *Bus
}

func (s *Subscription) Topic() models.Topic {
	return s.topic
}

func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Close stops delivery. Calling it more than once is fine.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

type topicSubs map[models.Topic]map[uint64]*Subscription

// Bus 基于会话的事件广播器: sessionID -> topic -> subscriptions
type Bus struct {
	sessions  map[string]topicSubs
	nextID    uint64
	buffer    int
	observer  Observer
	mutex     sync.RWMutex
	publishMu sync.Mutex
}

type Option func(*Bus)

func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

func NewBus(buffer int, opts ...Option) *Bus {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	b := &Bus{
		sessions: make(map[string]topicSubs),
		buffer:   buffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers interest in topic events of sessionID. A nil filter
// accepts events whose session id equals sessionID.
func (b *Bus) Subscribe(topic models.Topic, sessionID string, filter Filter) *Subscription {
	if filter == nil {
		filter = func(e models.Event) bool { return e.SessionID == sessionID }
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.nextID++
	ch := make(chan models.Event, b.buffer)
	sub := &Subscription{
		C:         ch,
		id:        b.nextID,
		topic:     topic,
		sessionID: sessionID,
		filter:    filter,
		ch:        ch,
		bus:       b,
	}

	topics, ok := b.sessions[sessionID]
	if !ok {
		topics = make(topicSubs)
		b.sessions[sessionID] = topics
	}
	subs, ok := topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		topics[topic] = subs
	}
	subs[sub.id] = sub

	if b.observer != nil {
		b.observer.SubscribersChanged(1)
	}
	return sub
}

// Publish delivers event to every matching subscription without blocking. A
// subscriber whose queue is full misses this event.
func (b *Bus) Publish(ctx context.Context, event models.Event) {
	// 串行发布，保证每个订阅者按发布顺序收到事件
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.observer != nil {
		b.observer.EventPublished(event.Topic)
	}

	for _, sub := range b.sessions[event.SessionID][event.Topic] {
		if !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if b.observer != nil {
				b.observer.EventDropped(event.Topic)
			}
		}
	}
}

// CloseSession ends every subscription on sessionID.
func (b *Bus) CloseSession(sessionID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	removed := 0
	for _, subs := range b.sessions[sessionID] {
		for _, sub := range subs {
			close(sub.ch)
			removed++
		}
	}
	delete(b.sessions, sessionID)

	if b.observer != nil && removed > 0 {
		b.observer.SubscribersChanged(-removed)
	}
}

// Subscribers counts the live subscriptions on sessionID.
func (b *Bus) Subscribers(sessionID string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	n := 0
	for _, subs := range b.sessions[sessionID] {
		n += len(subs)
	}
	return n
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subs, ok := b.sessions[sub.sessionID][sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)

	if len(subs) == 0 {
		delete(b.sessions[sub.sessionID], sub.topic)
	}
	if len(b.sessions[sub.sessionID]) == 0 {
		delete(b.sessions, sub.sessionID)
	}
	if b.observer != nil {
		b.observer.SubscribersChanged(-1)
	}
}
