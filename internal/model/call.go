package model

import (
	"math"
	"strconv"
)

// NotAvailable is substituted for missing contact fields.
const NotAvailable = "N/A"

// Batch is one uploaded spreadsheet as known to the remote service.
type Batch struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Call is the flattened local mirror of a remote call task. The result
// fields stay nil until the remote service has produced them.
type Call struct {
	ID        string     `json:"id"`
	BatchID   string     `json:"batchId"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Status    CallStatus `json:"status"`
	CreatedAt Timestamp  `json:"createdAt"`
	UpdatedAt Timestamp  `json:"updatedAt"`

	Summary        *string  `json:"summary"`
	Transcript     *string  `json:"transcript"`
	QualityScore   *float64 `json:"qualityScore"`
	CustomerIntent *string  `json:"customerIntent"`
	RecordingURL   *string  `json:"recordingUrl"`
}

// HasResult reports whether any call result field is present.
func (c Call) HasResult() bool {
	return c.Summary != nil || c.Transcript != nil || c.QualityScore != nil ||
		c.CustomerIntent != nil || c.RecordingURL != nil
}

// FormatScore renders a quality score without assuming its scale: up to two
// decimals, trailing zeros trimmed. A nil score renders as NotAvailable.
func FormatScore(score *float64) string {
	if score == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(math.Round(*score*100)/100, 'f', -1, 64)
}

// CallView is a Call plus display-only derived fields.
type CallView struct {
	Call
	StatusBucket      string `json:"statusBucket"`
	StatusRecognized  bool   `json:"statusRecognized"`
	QualityScoreLabel string `json:"qualityScoreLabel"`
	ResultReady       bool   `json:"resultReady"`
}

// NewCallView derives the display fields for c.
func NewCallView(c Call) CallView {
	return CallView{
		Call:              c,
		StatusBucket:      c.Status.Bucket(),
		StatusRecognized:  c.Status.Recognized(),
		QualityScoreLabel: FormatScore(c.QualityScore),
		ResultReady:       c.HasResult(),
	}
}
