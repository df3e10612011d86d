package models

import "time"

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type EventType string

const (
	EventDepeg      EventType = "depeg"
	EventRiskChange EventType = "risk_change"
)

type DepegEvent struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Chain     string    `json:"chain"`
	Price     float64   `json:"price"`
	Deviation float64   `json:"deviation"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

type RiskChangeEvent struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Chain     string    `json:"chain"`
	OldScore  int       `json:"old_score"`
	NewScore  int       `json:"new_score"`
	Timestamp time.Time `json:"timestamp"`
}

// EventEnvelope is the wire form used when events leave the process.
type EventEnvelope struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}
