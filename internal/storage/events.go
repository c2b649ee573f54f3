package storage

import "time"

// EventWriter is the interface for writing decision events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents a single firewall check result to be persisted.
// Per-analyzer data is stored as parallel arrays keyed by position.
type DecisionEvent struct {
	RequestID          string
	ProjectID          string
	Timestamp          time.Time
	MessagePreview     string // First 500 chars
	MessageHash        string // SHA256 of full message
	MessageSize        uint32
	HistoryTurns       uint32
	IsManipulative     bool
	TriggeringAnalyzer string
	IsShadow           bool
	Threshold          float64
	AnalyzerNames      []string
	AnalyzerFlagged    []bool
	AnalyzerScores     []float64
	AnalyzerLabels     []string
	AnalyzerErrors     []string
	UserID             string
	SessionID          string
	ClientTraceID      string
	LatencyMs          float32
	Source             string
}

// MessagePreviewLength is the max chars stored in message_preview.
const MessagePreviewLength = 500

// TruncateMessage returns the first N characters (runes) of a message for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateMessage(message string, maxLen int) string {
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	return string(runes[:maxLen])
}
