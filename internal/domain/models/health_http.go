package models

// Requests for health HTTP endpoints.

type HealthRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,ticker"`
	Chain  string `query:"chain" json:"chain" validate:"omitempty,max=32"`
}

type BatchHealthRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"omitempty,max=512"`
	Chain   string `query:"chain" json:"chain" validate:"omitempty,max=32"`
}

type MonitorRequest struct {
	Symbol     string `json:"symbol" validate:"required,ticker"`
	Chain      string `json:"chain" validate:"omitempty,max=32"`
	IntervalMs int64  `json:"interval_ms" default:"60000" validate:"gte=1000,lte=86400000"`
}

type StopMonitorRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,ticker"`
	Chain  string `query:"chain" json:"chain" validate:"omitempty,max=32"`
}
