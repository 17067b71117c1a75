// Package correlator implements the client-side half of the relay: it
// submits questions, watches the notification stream, and reconciles
// completion events against the questions it still considers pending.
package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/utils"
)

// State of one tracked question.
type State int

const (
	// Submitted: accepted locally, store write not yet confirmed.
	Submitted State = iota
	// AwaitingAnswer: store write confirmed, waiting for the completion
	// event.
	AwaitingAnswer
	// Answered: a matching completion event arrived.
	Answered
	// TimedOut: the client-side deadline passed; a placeholder answer was
	// synthesized. A late notification for this id is ignored.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case AwaitingAnswer:
		return "awaiting_answer"
	case Answered:
		return "answered"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// errorPlaceholder is the synthesized answer shown when no completion event
// arrives in time. The backend has no negative-acknowledgment channel, so the
// timeout is the only user-facing error path.
const errorPlaceholder = "Error: no answer received. Please try again."

const defaultClientTimeout = 90 * time.Second

// SubmitFunc performs the actual submission (an HTTP POST or a direct store
// write). It must return only after the message is durably accepted.
type SubmitFunc func(ctx context.Context, m models.Message) error

type pending struct {
	msg      models.Message
	state    State
	deadline time.Time
}

// Correlator tracks the active session's pending questions and applies
// completion events to them. One Correlator per page/session lifetime.
type Correlator struct {
	mu      sync.Mutex
	session string
	pending map[string]*pending
	history []models.Message

	submit  SubmitFunc
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout sets the client-side answer deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates a Correlator with a fresh session id.
func New(submit SubmitFunc, opts ...Option) *Correlator {
	c := &Correlator{
		session: utils.GenSessionID(),
		pending: make(map[string]*pending),
		submit:  submit,
		timeout: defaultClientTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionID returns the currently active session id.
func (c *Correlator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Submit sends a question under the active session. The returned message
// carries the generated id; its answer arrives later via the notification
// stream. A second in-flight question for the same session is rejected: the
// continuation token of exchange N+1 depends on the outcome of exchange N.
func (c *Correlator) Submit(ctx context.Context, question string) (models.Message, error) {
	if question == "" {
		return models.Message{}, fmt.Errorf("question must not be empty")
	}

	c.mu.Lock()
	for _, p := range c.pending {
		if p.state == Submitted || p.state == AwaitingAnswer {
			c.mu.Unlock()
			return models.Message{}, fmt.Errorf("session %s: previous question still in flight", c.session)
		}
	}
	m := models.Message{
		ID:        utils.GenID(),
		SessionID: c.session,
		Question:  question,
		TS:        c.now().UnixNano(),
	}
	c.pending[m.ID] = &pending{msg: m, state: Submitted}
	c.mu.Unlock()

	if err := c.submit(ctx, m); err != nil {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
		return models.Message{}, fmt.Errorf("submit: %w", err)
	}

	c.mu.Lock()
	if p, ok := c.pending[m.ID]; ok {
		p.state = AwaitingAnswer
		p.deadline = c.now().Add(c.timeout)
	}
	c.history = append(c.history, m)
	c.mu.Unlock()

	logger.Info("question_submitted", "session", m.SessionID, "id", m.ID)
	return m, nil
}

// Apply reconciles one completion event against local state. Events for
// another session are discarded. An event for an id with no local record
// (state lost, e.g. after a reload) is surfaced as an error placeholder in
// the history rather than silently dropped.
func (c *Correlator) Apply(n models.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.SessionID != c.session {
		logger.Debug("notification_discarded_foreign_session", "session", n.SessionID, "id", n.ID)
		return
	}

	p, ok := c.pending[n.ID]
	if !ok {
		logger.Warn("notification_unknown_id", "session", n.SessionID, "id", n.ID)
		c.history = append(c.history, models.Message{
			ID:        n.ID,
			SessionID: n.SessionID,
			Answer:    errorPlaceholder,
			TS:        c.now().UnixNano(),
		})
		return
	}
	if p.state != AwaitingAnswer {
		// answered twice or arrived after the timeout placeholder
		logger.Debug("notification_ignored", "id", n.ID, "state", p.state.String())
		return
	}

	p.state = Answered
	p.msg.Answer = n.Answer
	c.setHistoryAnswer(n.ID, n.Answer)
	logger.Info("answer_received", "session", n.SessionID, "id", n.ID)
}

// expire synthesizes error placeholders for pending questions whose deadline
// passed.
func (c *Correlator) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, p := range c.pending {
		if p.state == AwaitingAnswer && now.After(p.deadline) {
			p.state = TimedOut
			p.msg.Answer = errorPlaceholder
			c.setHistoryAnswer(id, errorPlaceholder)
			logger.Warn("answer_timeout", "session", c.session, "id", id)
		}
	}
}

func (c *Correlator) setHistoryAnswer(id, answer string) {
	for i := range c.history {
		if c.history[i].ID == id {
			c.history[i].Answer = answer
			return
		}
	}
}

// History returns a copy of the session's local message history.
func (c *Correlator) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.history...)
}

// StateOf reports the tracked state of a message id.
func (c *Correlator) StateOf(id string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// ClearHistory drops local history and switches to a fresh session id.
// Server-side records are untouched; the old conversation simply becomes
// unreachable from this client.
func (c *Correlator) ClearHistory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.session
	c.session = utils.GenSessionID()
	c.pending = make(map[string]*pending)
	c.history = nil
	logger.Info("history_cleared", "old_session", old, "session", c.session)
	return c.session
}

// Run consumes the subscription until ctx is done or the stream closes,
// applying events and sweeping client-side timeouts.
func (c *Correlator) Run(ctx context.Context, sub *notify.Subscription) {
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			c.expire()
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			c.Apply(n)
		}
	}
}
