package correlator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func acceptAll(_ context.Context, _ models.Message) error { return nil }

func TestSubmitAndAnswer(t *testing.T) {
	c := New(acceptAll)

	m, err := c.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if m.SessionID != c.SessionID() {
		t.Fatalf("message not bound to active session: %+v", m)
	}
	if st, ok := c.StateOf(m.ID); !ok || st != AwaitingAnswer {
		t.Fatalf("expected AwaitingAnswer, got %v %v", st, ok)
	}

	c.Apply(models.Notification{ID: m.ID, SessionID: m.SessionID, Answer: "hi"})
	if st, _ := c.StateOf(m.ID); st != Answered {
		t.Fatalf("expected Answered, got %v", st)
	}
	hist := c.History()
	if len(hist) != 1 || hist[0].Answer != "hi" {
		t.Fatalf("history not updated: %+v", hist)
	}
}

func TestSubmitFailurePropagates(t *testing.T) {
	c := New(func(_ context.Context, _ models.Message) error { return fmt.Errorf("store down") })
	if _, err := c.Submit(context.Background(), "hello"); err == nil {
		t.Fatalf("expected submit error")
	}
	if len(c.History()) != 0 {
		t.Fatalf("failed submit left history entries")
	}
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	c := New(acceptAll)
	if _, err := c.Submit(context.Background(), ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSecondInFlightRejected(t *testing.T) {
	c := New(acceptAll)
	if _, err := c.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// the continuation token of the next exchange depends on the first
	// answer, so overlapping submissions are refused
	if _, err := c.Submit(context.Background(), "second"); err == nil {
		t.Fatalf("expected in-flight rejection")
	}
}

func TestForeignSessionDiscarded(t *testing.T) {
	c := New(acceptAll)
	m, err := c.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.Apply(models.Notification{ID: m.ID, SessionID: "someone-else", Answer: "hi"})
	if st, _ := c.StateOf(m.ID); st != AwaitingAnswer {
		t.Fatalf("foreign-session event applied: %v", st)
	}
	hist := c.History()
	if len(hist) != 1 || hist[0].Answer != "" {
		t.Fatalf("history changed by foreign event: %+v", hist)
	}
}

func TestUnknownIDSurfacesPlaceholder(t *testing.T) {
	c := New(acceptAll)

	c.Apply(models.Notification{ID: "lost-m1", SessionID: c.SessionID(), Answer: "hi"})
	hist := c.History()
	if len(hist) != 1 {
		t.Fatalf("expected placeholder entry, got %+v", hist)
	}
	if hist[0].ID != "lost-m1" || hist[0].Answer != errorPlaceholder {
		t.Fatalf("unexpected placeholder: %+v", hist[0])
	}
}

func TestClientTimeoutSynthesizesPlaceholder(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(acceptAll,
		WithTimeout(30*time.Second),
		WithClock(func() time.Time { return now }),
	)
	m, err := c.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	now = now.Add(31 * time.Second)
	c.expire()

	if st, _ := c.StateOf(m.ID); st != TimedOut {
		t.Fatalf("expected TimedOut, got %v", st)
	}
	hist := c.History()
	if hist[0].Answer != errorPlaceholder {
		t.Fatalf("placeholder not synthesized: %+v", hist[0])
	}

	// a late notification is ignored once the placeholder exists
	c.Apply(models.Notification{ID: m.ID, SessionID: m.SessionID, Answer: "late"})
	if c.History()[0].Answer != errorPlaceholder {
		t.Fatalf("late notification overwrote the placeholder")
	}
}

func TestClearHistoryStartsNewSession(t *testing.T) {
	c := New(acceptAll)
	old := c.SessionID()
	m, err := c.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	fresh := c.ClearHistory()
	if fresh == old {
		t.Fatalf("ClearHistory kept the session id")
	}
	if len(c.History()) != 0 {
		t.Fatalf("history survived clear")
	}
	// events for the old session are now foreign and must be discarded
	c.Apply(models.Notification{ID: m.ID, SessionID: old, Answer: "hi"})
	if len(c.History()) != 0 {
		t.Fatalf("old-session event applied after clear")
	}
}
