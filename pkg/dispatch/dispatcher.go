package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/gateway"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/validation"
)

// Dispatcher runs the question/answer pipeline for one pending message:
// validate, invoke the agent with the session's continuation token, persist
// the answer, publish exactly one completion event. Failures are silent
// toward subscribers: no notification is ever published for a message whose
// answer was not persisted.
type Dispatcher struct {
	agent  gateway.Agent
	broker *notify.Broker
	locks  *sessionLocks
}

// NewDispatcher wires the agent and the notification broker.
func NewDispatcher(agent gateway.Agent, broker *notify.Broker) *Dispatcher {
	return &Dispatcher{agent: agent, broker: broker, locks: newSessionLocks()}
}

// Dispatch processes one pending message end to end. It is idempotent: a
// message that already carries an answer is a no-op success and the agent is
// not invoked again. Dispatches for the same session are serialized so
// continuation tokens thread through the session in order.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Message) error {
	start := time.Now()

	if err := validation.ValidateSubmission(msg); err != nil {
		dispatchTotal.WithLabelValues("invalid").Inc()
		return err
	}

	release := d.locks.acquire(msg.SessionID)
	defer release()

	// The store is the idempotency truth: an answered record means this
	// message was already dispatched (possibly by a previous delivery of the
	// same stream record).
	if cur, err := store.GetMessage(msg.ID); err == nil && cur.Answered() {
		dispatchTotal.WithLabelValues("duplicate").Inc()
		logger.Info("dispatch_skipped_answered", "session", msg.SessionID, "id", msg.ID)
		return nil
	}

	memoryID := msg.MemoryID
	if memoryID == "" {
		tok, err := store.SessionMemory(msg.SessionID)
		if err != nil {
			dispatchTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("resolve session memory: %w", err)
		}
		memoryID = tok
	}

	invokeSpan := telemetry.StartSpan(ctx, "agent.invoke")
	res, err := d.agent.Invoke(ctx, gateway.Request{
		Question:  msg.Question,
		SessionID: msg.SessionID,
		MemoryID:  memoryID,
	})
	invokeSpan()
	if err != nil {
		dispatchTotal.WithLabelValues("gateway_failure").Inc()
		logger.Error("agent_invoke_failed", "session", msg.SessionID, "id", msg.ID, "error", err)
		if errors.Is(err, gateway.ErrGatewayFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", gateway.ErrGatewayFailure, err)
	}
	if res.Answer == "" {
		// successful invocation with no content: drop silently, the client
		// side owns the timeout placeholder
		dispatchTotal.WithLabelValues("empty").Inc()
		logger.Warn("agent_empty_answer", "session", msg.SessionID, "id", msg.ID)
		return nil
	}

	updated, err := store.UpdateAnswer(msg.ID, res.Answer, res.MemoryID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyAnswered) {
			// lost a race with another dispatch of the same message; the
			// winner already published
			dispatchTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		dispatchTotal.WithLabelValues("error").Inc()
		logger.Error("persist_answer_failed", "session", msg.SessionID, "id", msg.ID, "error", err)
		return err
	}

	if err := d.broker.Publish(notify.DefaultTopic, models.Notification{
		ID:        updated.ID,
		SessionID: updated.SessionID,
		Answer:    updated.Answer,
	}); err != nil {
		// answer is durable; delivery failure only affects live listeners
		logger.Warn("notify_publish_failed", "session", msg.SessionID, "id", msg.ID, "error", err)
	}

	dispatchTotal.WithLabelValues("ok").Inc()
	dispatchDuration.Observe(time.Since(start).Seconds())
	logger.Info("dispatch_completed", "session", msg.SessionID, "id", msg.ID,
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Workers consumes the queue with n workers until stop is closed. Each op's
// payload is decoded back into a message and dispatched; dispatch errors are
// logged, not retried.
func (d *Dispatcher) Workers(q *Queue, n int, stop <-chan struct{}) {
	if n <= 0 {
		n = 1
	}
	registerQueue(q)
	for i := 0; i < n; i++ {
		go q.RunWorker(stop, func(op *Op) error {
			m, err := decodeOp(op)
			if err != nil {
				logger.Error("dispatch_decode_failed", "id", op.ID, "error", err)
				return err
			}
			return d.Dispatch(context.Background(), m)
		})
	}
}
