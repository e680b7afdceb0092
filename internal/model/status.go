package model

import (
	"encoding/json"
	"strings"
)

// StatusKind is the recognized part of a call status. Anything the
// remote service sends that is not listed here is StatusUnrecognized.
type StatusKind int

const (
	StatusUnrecognized StatusKind = iota
	StatusPending
	StatusInitiated
	StatusRinging
	StatusInProgress
	StatusActive
	StatusCompleted
	StatusDone
	StatusEnded
	StatusFailed
	StatusCancelled
	StatusNoShow
	StatusTerminated
)

var statusKinds = map[string]StatusKind{
	"pending":     StatusPending,
	"initiated":   StatusInitiated,
	"ringing":     StatusRinging,
	"in_progress": StatusInProgress,
	"active":      StatusActive,
	"completed":   StatusCompleted,
	"done":        StatusDone,
	"ended":       StatusEnded,
	"failed":      StatusFailed,
	"cancelled":   StatusCancelled,
	"no_show":     StatusNoShow,
	"terminated":  StatusTerminated,
}

// Display buckets
const (
	BucketInitiated = "initiated"
	BucketCompleted = "completed"
	BucketOther     = "other"
)

// CallStatus is a server-defined call status. Raw always holds the value
// exactly as received so unknown statuses survive a round trip.
type CallStatus struct {
	Kind StatusKind
	Raw  string
}

// ParseCallStatus classifies raw. Matching is case-insensitive and
// ignores surrounding whitespace; Raw keeps the original text.
func ParseCallStatus(raw string) CallStatus {
	kind, ok := statusKinds[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		kind = StatusUnrecognized
	}
	return CallStatus{Kind: kind, Raw: raw}
}

// Recognized reports whether the status is one of the known values.
func (s CallStatus) Recognized() bool {
	return s.Kind != StatusUnrecognized
}

// Bucket groups the status for display.
func (s CallStatus) Bucket() string {
	switch s.Kind {
	case StatusInitiated:
		return BucketInitiated
	case StatusCompleted:
		return BucketCompleted
	default:
		return BucketOther
	}
}

func (s CallStatus) String() string {
	return s.Raw
}

func (s CallStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Raw)
}

func (s *CallStatus) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = ParseCallStatus("")
		return nil
	}
	*s = ParseCallStatus(*raw)
	return nil
}
