package models

// Session groups messages into one conversation. Sessions are created
// implicitly by the first message that references them and are never
// deleted by the core; clearing history client-side just starts a new id.
type Session struct {
	ID string `json:"id"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time a message was added or answered
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}
