package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// Stream event names mirrored from the change feed.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// StreamRecord is one change-feed record: the event envelope plus the
// message image captured at write time.
type StreamRecord struct {
	EventID   string         `json:"eventId"`
	EventName string         `json:"eventName"`
	Message   models.Message `json:"message"`
}

// ItemFailure identifies one failed record of a batch by its event id so the
// feed can redeliver just that record.
type ItemFailure struct {
	ItemID string `json:"itemIdentifier"`
}

// BatchResult reports the partial outcome of a batch: records absent from
// Failures are considered consumed and will not be redelivered.
type BatchResult struct {
	Failures []ItemFailure `json:"batchItemFailures"`
}

// Failed reports whether any record in the batch failed.
func (r BatchResult) Failed() bool { return len(r.Failures) > 0 }

// ProcessBatch dispatches every insert record of a batch independently. A
// record failure never aborts the batch; it is recorded by event id and the
// remaining records still run. Non-insert events are skipped as consumed:
// answer updates re-enter the feed as MODIFY and must not trigger a second
// dispatch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, records []StreamRecord) BatchResult {
	var res BatchResult
	for _, rec := range records {
		if rec.EventName != EventInsert {
			batchRecordsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if err := d.Dispatch(ctx, rec.Message); err != nil {
			batchRecordsTotal.WithLabelValues("failed").Inc()
			logger.Error("batch_record_failed", "event_id", rec.EventID,
				"session", rec.Message.SessionID, "id", rec.Message.ID, "error", err)
			res.Failures = append(res.Failures, ItemFailure{ItemID: rec.EventID})
			continue
		}
		batchRecordsTotal.WithLabelValues("ok").Inc()
	}
	return res
}

// decodeOp turns a queued op back into the message it carries. The payload is
// authoritative; the op header fields are only routing hints.
func decodeOp(op *Op) (models.Message, error) {
	var m models.Message
	if len(op.Payload) == 0 {
		return m, fmt.Errorf("op %s: empty payload", op.ID)
	}
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return m, fmt.Errorf("op %s: invalid payload: %w", op.ID, err)
	}
	return m, nil
}
