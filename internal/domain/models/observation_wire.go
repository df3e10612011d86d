package models

import (
	"strings"
	"time"
)

// ObservationMessage is the Kafka wire form of a PriceObservation. T is unix
// milliseconds.
type ObservationMessage struct {
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Source    string   `json:"source"`
	T         int64    `json:"t"`
	Liquidity *float64 `json:"liquidity,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
}

func ObservationMessageFrom(o *PriceObservation) ObservationMessage {
	return ObservationMessage{
		Symbol:    o.Symbol,
		Price:     o.Price,
		Source:    o.Source,
		T:         o.Timestamp.UnixMilli(),
		Liquidity: o.Liquidity,
		Volume:    o.Volume24h,
	}
}

// Observation converts the message back. Second-resolution timestamps
// (T below 1e11) are accepted as well; a missing T leaves Timestamp zero.
func (m ObservationMessage) Observation() *PriceObservation {
	obs := &PriceObservation{
		Symbol:    strings.ToUpper(m.Symbol),
		Price:     m.Price,
		Source:    m.Source,
		Liquidity: m.Liquidity,
		Volume24h: m.Volume,
	}
	ts := m.T
	if ts < 1e11 {
		ts *= 1000
	}
	if ts > 0 {
		obs.Timestamp = time.UnixMilli(ts).UTC()
	}
	return obs
}
