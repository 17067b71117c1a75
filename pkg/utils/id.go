package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq reduces id collisions when multiple ids are generated within the same
// nanosecond.
var seq uint64

// GenID returns a message id that sorts by creation order: the zero-padded
// creation time (ns) followed by a process-local sequence number.
func GenID() string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("msg-%020d-%06d", ts, s)
}

var lastSessionMs int64

// GenSessionID returns a fresh session id. The millisecond form matches what
// browser clients generate for themselves; the value is bumped when two ids
// are requested within the same millisecond so consecutive ids never collide.
func GenSessionID() string {
	ms := time.Now().UTC().UnixMilli()
	for {
		last := atomic.LoadInt64(&lastSessionMs)
		next := ms
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastSessionMs, last, next) {
			return fmt.Sprintf("session-%d", next)
		}
	}
}

// NewMemoryID mints an opaque continuation token for agent-side memory.
func NewMemoryID() string {
	return "mem-" + uuid.NewString()
}
