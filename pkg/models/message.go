package models

// Message is one question/answer exchange inside a session. The record is
// created with an empty Answer and completed at most once by the dispatcher.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
	// Answer is absent until the dispatcher completes the exchange.
	Answer string `json:"answer,omitempty"`
	// MemoryID is the opaque continuation token returned by the agent for
	// this exchange; the session's next invocation passes it back so the
	// agent keeps its conversational memory.
	MemoryID string `json:"memoryId,omitempty"`
	// TS is the creation timestamp (ns).
	TS int64 `json:"ts"`
}

// Answered reports whether the exchange has been completed.
func (m Message) Answered() bool { return m.Answer != "" }

// Notification is the completion event published on the notification
// channel once an answer is persisted. Receivers filter by SessionID.
type Notification struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}
