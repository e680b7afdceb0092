package model

import "time"

// UploadStatus tracks the operator's most recent upload.
type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// UploadState is the upload indicator shown next to the drop zone.
type UploadState struct {
	Status    UploadStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	FileName  string       `json:"fileName,omitempty"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
}

// UploadResult is returned once the remote service accepted a spreadsheet.
type UploadResult struct {
	BatchID    string    `json:"batchId"`
	FileName   string    `json:"fileName"`
	TotalCalls int       `json:"totalCalls"`
	ArchiveURL string    `json:"archiveUrl,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}
