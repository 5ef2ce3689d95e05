package events

import (
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
)

// Topic names a class of events on the Feed.
type Topic string

// Feed topics.
const (
	// TopicState carries polled device state snapshots.
	TopicState Topic = "state"
	// TopicNotification carries register notifications.
	TopicNotification Topic = "notification"
	// TopicProperty carries pushed UPnP properties.
	TopicProperty Topic = "property"
	// TopicConnection carries session state transitions.
	TopicConnection Topic = "connection"
	// TopicInfo carries refreshed device information (lens, menus).
	TopicInfo Topic = "info"
	// TopicError carries errors from background workers.
	TopicError Topic = "error"
)

// AllTopics lists every topic, for subscribers that want everything.
var AllTopics = []Topic{TopicState, TopicNotification, TopicProperty, TopicConnection, TopicInfo, TopicError}

// DefaultCapacity is the per-subscriber buffer.
const DefaultCapacity = 64

// Event is one item on the Feed. Topic decides which fields are set.
type Event struct {
	Topic Topic
	At    time.Time

	// Address is the register of a notification.
	Address uint16
	// Data is the notified register value.
	Data []byte

	// Name and Value carry a property, or the from/to states of a
	// connection event.
	Name  string
	Value string

	// Values carries a state snapshot or an info map.
	Values map[string]string

	// Err is set for error events and for connection losses.
	Err error
}

// Subscription receives events for the topics it was opened with.
type Subscription struct {
	C <-chan Event

	once  sync.Once
	unsub func()
}

// Close stops delivery. C is closed shortly after.
func (s *Subscription) Close() {
	if s == nil || s.unsub == nil {
		return
	}
	s.once.Do(s.unsub)
}

// Feed fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Feed struct {
	ps *pubsub.PubSub[Topic, Event]

	mu     sync.RWMutex
	closed bool
}

// NewFeed creates a Feed with the given per-subscriber capacity.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{ps: pubsub.New[Topic, Event](capacity)}
}

// Publish stamps ev and delivers it to subscribers of its topic.
func (f *Feed) Publish(ev Event) {
	if f == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.ps.TryPub(ev, ev.Topic)
}

// Subscribe opens a subscription. With no topics it covers AllTopics.
func (f *Feed) Subscribe(topics ...Topic) *Subscription {
	if len(topics) == 0 {
		topics = AllTopics
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		ch := make(chan Event)
		close(ch)
		return &Subscription{C: ch}
	}
	ch := f.ps.Sub(topics...)
	return &Subscription{
		C: ch,
		unsub: func() {
			f.mu.RLock()
			closed := f.closed
			f.mu.RUnlock()
			if !closed {
				// Unsub blocks until the pubsub loop drains the channel.
				go f.ps.Unsub(ch, topics...)
			}
		},
	}
}

// Close shuts the feed down and closes every subscription channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.ps.Shutdown()
}
