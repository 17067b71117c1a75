package notify

import (
	"errors"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// DefaultTopic is the single well-known topic carrying completion events.
// Receivers filter by session id.
const DefaultTopic = "default/channel"

const (
	defaultSubscriberBuffer = 64
	defaultPublishTimeout   = 2 * time.Second
)

// ErrClosed is returned by Publish after the broker has been shut down.
var ErrClosed = errors.New("notify: broker closed")

// Subscription is one receiver attached to a topic. The correlator holds
// exactly one open subscription per page/session lifetime and must Close it
// to release the underlying channel.
type Subscription struct {
	C <-chan models.Notification

	ch    chan models.Notification
	topic string
	b     *Broker
	once  sync.Once
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
		close(s.ch)
	})
}

// Broker is an in-process publish/subscribe fan-out with at-least-once
// intent: a slow subscriber stalls delivery up to the publish timeout before
// the event is counted as dropped for that subscriber. No ordering guarantee
// across sessions; within one session ordering is best-effort only.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	timeout time.Duration
	closed  bool
}

// NewBroker creates a broker with the given per-subscriber buffer and
// publish timeout; zero values select defaults.
func NewBroker(buffer int, timeout time.Duration) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Broker{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		timeout: timeout,
	}
}

// Subscribe attaches a new subscription to the topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, b: b}
	sub.ch = make(chan models.Notification, b.buffer)
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// closed broker hands out an already-closed subscription
		close(sub.ch)
		return sub
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	subscriberGauge.Inc()
	return sub
}

func (b *Broker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			subscriberGauge.Dec()
		}
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

// Publish delivers the event to every current subscriber of the topic. A
// full subscriber buffer stalls the publisher up to the publish timeout; a
// subscriber that still cannot accept is skipped and the miss is counted.
func (b *Broker) Publish(topic string, n models.Notification) error {
	// The read lock is held across delivery so a subscription cannot be
	// closed while a send to it is in flight.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	publishedTotal.Inc()
	for s := range b.subs[topic] {
		select {
		case s.ch <- n:
		default:
			t := time.NewTimer(b.timeout)
			select {
			case s.ch <- n:
				t.Stop()
			case <-t.C:
				droppedTotal.Inc()
				logger.Warn("notify_subscriber_stalled", "topic", topic, "id", n.ID, "session", n.SessionID)
			}
		}
	}
	return nil
}

// Close shuts the broker down and detaches all subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
			subscriberGauge.Dec()
		}
	}
	b.subs = map[string]map[*Subscription]struct{}{}
}
