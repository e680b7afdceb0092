package model

import "time"

// RedialState is the lifecycle of one redial request.
type RedialState string

const (
	RedialQueued    RedialState = "queued"
	RedialRunning   RedialState = "running"
	RedialSucceeded RedialState = "succeeded"
	RedialFailed    RedialState = "failed"
)

// RedialJobPayload is the queued form of a redial request.
type RedialJobPayload struct {
	CallID     string    `json:"callId"`
	BatchID    string    `json:"batchId,omitempty"`
	RequestID  string    `json:"requestId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// RedialAttempt records what happened to one redial request.
type RedialAttempt struct {
	RequestID    string      `json:"requestId"`
	CallID       string      `json:"callId"`
	BatchID      string      `json:"batchId,omitempty"`
	Mode         string      `json:"mode"`
	State        RedialState `json:"state"`
	RemoteCallID string      `json:"remoteCallId,omitempty"`
	Error        *string     `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// RedialAccepted is the API response for an accepted redial.
type RedialAccepted struct {
	CallID    string      `json:"callId"`
	RequestID string      `json:"requestId"`
	Mode      string      `json:"mode"`
	State     RedialState `json:"state"`
}
