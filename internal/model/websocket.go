package model

// WebSocket message types
const (
	WSMessageTypeView   = "view"
	WSMessageTypeNotice = "notice"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// Notice levels
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSViewMessage carries a full view-state snapshot.
type WSViewMessage struct {
	Type    string      `json:"type"`
	BatchID string      `json:"batchId"`
	View    interface{} `json:"view"`
}

// WSNoticeMessage is a user-visible notice, e.g. a failed redial.
type WSNoticeMessage struct {
	Type    string `json:"type"`
	BatchID string `json:"batchId"`
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
	CallID  string `json:"callId,omitempty"`
}
