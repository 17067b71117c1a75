package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

const (
	fallbackQueueCapacity = 1024
	defaultBatchSize      = 64
)

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrQueueClosed is returned when enqueue is attempted after close.
	ErrQueueClosed = errors.New("dispatch queue closed")
)

// Op is a pending dispatch destined for the workers. Payload is the
// JSON-encoded message; it may be backed by a pooled buffer, so consumers
// must call Item.Done() when finished.
type Op struct {
	ID      string
	Session string
	Payload []byte
	// TS is the submission timestamp (ns).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the op is
	// accepted into the queue; it gives deterministic ordering in batches.
	EnqSeq uint64
}

// Item wraps an Op and owns a pooled ByteBuffer if one was used. Consumers
// MUST call Done() exactly once after processing.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

var opPool = sync.Pool{New: func() any { return &Op{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer caps the buffer size returned to the pool; larger buffers
// are dropped so resident memory stays bounded.
var maxPooledBuffer = 256 * 1024

// SetMaxPooledBuffer overrides the pooled buffer cap (startup only).
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
		itemPool.Put(it)
	})
}

// Queue is a bounded in-memory queue between the API layer and the
// dispatch workers. Safe for concurrent producers.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32
	enqSeq   uint64
}

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer channel; do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) newItem(op *Op) *Item {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)

	it := itemPool.Get().(*Item)
	*it = Item{Op: newOp}
	if len(op.Payload) > 0 {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
		it.buf = bb
	}
	return it
}

func (q *Queue) release(it *Item) {
	atomic.AddUint64(&q.dropped, 1)
	it.Done()
}

// TryEnqueue enqueues an Op without blocking; returns ErrQueueFull when at
// capacity.
func (q *Queue) TryEnqueue(op *Op) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	default:
		q.release(it)
		return ErrQueueFull
	}
}

// Enqueue blocks until op is enqueued or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		q.release(it)
		return ctx.Err()
	}
}

// TryEnqueueBytes copies payload and enqueues an Op built from the fields.
func (q *Queue) TryEnqueueBytes(session, id string, payload []byte, ts int64) error {
	return q.TryEnqueue(&Op{ID: id, Session: session, Payload: payload, TS: ts})
}

// RunWorker dequeues items and calls handler for each, guaranteeing
// Item.Done(). Exits when stop is closed or the queue closes.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Op) error) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				_ = handler(it.Op)
			}(it)
		case <-stop:
			return
		}
	}
}

// RunBatchWorker drains up to batchSize items and invokes handler once per
// batch.
func (q *Queue) RunBatchWorker(stop <-chan struct{}, batchSize int, handler func([]*Op) error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for {
		select {
		case <-stop:
			return
		default:
		}

		var items []*Item
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			items = append(items, it)
		case <-stop:
			return
		}

	collect:
		for len(items) < batchSize {
			select {
			case it, ok := <-q.ch:
				if !ok {
					break collect
				}
				items = append(items, it)
			default:
				break collect
			}
		}

		func(batch []*Item) {
			defer func() {
				for _, it := range batch {
					it.Done()
				}
			}()
			ops := make([]*Op, len(batch))
			for i, it := range batch {
				ops[i] = it.Op
			}
			_ = handler(ops)
		}(items)
	}
}

// CloseAndDrain marks the queue closed for producers and releases any items
// still buffered. The channel itself stays open: a producer that passed the
// closed check before the flag flipped can finish its send without a
// send-on-closed-channel panic, and consumers exit via their stop channel.
// An item parked by such a straggler is released by the next drain attempt
// or dropped with the process.
func (q *Queue) CloseAndDrain() {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return
	}
	for {
		select {
		case it := <-q.ch:
			it.Done()
		default:
			return
		}
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of ops rejected due to a full queue or
// cancellation during enqueue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
