package gateway

import (
	"context"
	"errors"
)

// ErrGatewayFailure marks an external agent invocation that errored or
// timed out. The dispatcher distinguishes it with errors.Is; retry policy
// belongs to the caller, never to the gateway.
var ErrGatewayFailure = errors.New("agent gateway failure")

// Request is one agent invocation: the user question plus the session and
// the opaque continuation token from the session's previous exchange.
type Request struct {
	Question  string
	SessionID string
	MemoryID  string
}

// Result is the drained agent response. An empty Answer with a nil error is
// the explicit empty-result marker: the call succeeded but produced no
// content, and the caller skips notification without treating it as an
// error.
type Result struct {
	Answer   string
	MemoryID string
}

// Agent presents a single-shot, non-streaming request/response interface
// over an external agent-invocation capability. Implementations must fully
// drain any streaming response into one concatenated text value before
// returning.
type Agent interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Turn is one entry of the conversational transcript kept per continuation
// token.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// TranscriptStore persists transcripts keyed by continuation token so
// agent-side memory survives restarts.
type TranscriptStore interface {
	// Load returns the transcript for a token; an unknown token yields an
	// empty transcript, not an error.
	Load(token string) ([]Turn, error)
	Save(token string, turns []Turn) error
}
