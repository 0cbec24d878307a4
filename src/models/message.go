package models

// MessageType discriminates relay envelopes.
type MessageType string

const (
	TypeWork   MessageType = "work"
	TypeCancel MessageType = "cancel"
	TypeUpdate MessageType = "update"
	TypeResult MessageType = "result"
)

// Envelope is one relay message. Work and cancel flow from the broker to the
// provider, update and result flow back.
type Envelope struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq,omitempty"`
	Request   *AnalysisRequest `json:"request,omitempty"`
	Update    *AnalysisUpdate  `json:"update,omitempty"`
	Result    *AnalysisResult  `json:"result,omitempty"`
}
