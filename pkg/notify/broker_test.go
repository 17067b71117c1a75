package notify

import (
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker(4, 100*time.Millisecond)
	defer b.Close()

	s1 := b.Subscribe(DefaultTopic)
	defer s1.Close()
	s2 := b.Subscribe(DefaultTopic)
	defer s2.Close()

	n := models.Notification{ID: "m1", SessionID: "s1", Answer: "hi"}
	if err := b.Publish(DefaultTopic, n); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, sub := range []*Subscription{s1, s2} {
		select {
		case got := <-sub.C:
			if got != n {
				t.Fatalf("subscriber %d: unexpected event %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	b := NewBroker(4, 100*time.Millisecond)
	defer b.Close()

	sub := b.Subscribe("other/topic")
	defer sub.Close()

	if err := b.Publish(DefaultTopic, models.Notification{ID: "m1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case n := <-sub.C:
		t.Fatalf("event leaked across topics: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedSubscriptionNotDelivered(t *testing.T) {
	b := NewBroker(4, 100*time.Millisecond)
	defer b.Close()

	sub := b.Subscribe(DefaultTopic)
	sub.Close()

	if err := b.Publish(DefaultTopic, models.Notification{ID: "m1"}); err != nil {
		t.Fatalf("Publish after subscriber close: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("closed subscription received an event")
	}
}

func TestStalledSubscriberIsSkipped(t *testing.T) {
	b := NewBroker(1, 20*time.Millisecond)
	defer b.Close()

	sub := b.Subscribe(DefaultTopic)
	defer sub.Close()

	// fill the buffer and never read; the second publish must return after
	// the publish timeout instead of blocking forever
	_ = b.Publish(DefaultTopic, models.Notification{ID: "m1"})
	done := make(chan struct{})
	go func() {
		_ = b.Publish(DefaultTopic, models.Notification{ID: "m2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on stalled subscriber")
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4, 100*time.Millisecond)
	sub := b.Subscribe(DefaultTopic)
	b.Close()
	b.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Fatalf("subscription channel open after broker close")
	}
	if err := b.Publish(DefaultTopic, models.Notification{ID: "m1"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// subscribing after close hands out an already-closed subscription
	late := b.Subscribe(DefaultTopic)
	if _, ok := <-late.C; ok {
		t.Fatalf("late subscription received an event")
	}
}
