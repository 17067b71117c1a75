package notify

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func waitForSubscriber(t *testing.T, b *Broker, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.RLock()
		n := len(b.subs[topic])
		b.mu.RUnlock()
		if n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber attached to %s", topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSEDeliversCompletionEvent(t *testing.T) {
	b := NewBroker(8, 100*time.Millisecond)
	defer b.Close()
	srv := httptest.NewServer(SSEHandler(b, time.Minute))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitForSubscriber(t, b, DefaultTopic)
	want := models.Notification{ID: "m1", SessionID: "s1", Answer: "hi"}
	if err := b.Publish(DefaultTopic, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var event, data string
	deadline := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before the event arrived")
			}
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatalf("no event within deadline")
		}
	}
	if event != "completion" {
		t.Fatalf("unexpected event name %q", event)
	}

	var got models.Notification
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected notification: %+v", got)
	}
}
