package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedAsset = errors.New("unsupported asset")
	ErrNoPriceData      = errors.New("no price data")
	ErrHealthCheck      = errors.New("health check failed")
)

// HealthCheckError wraps an unexpected failure raised while building a report.
type HealthCheckError struct {
	Symbol string
	Chain  string
	Err    error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check %s/%s: %v", e.Symbol, e.Chain, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

func (e *HealthCheckError) Is(target error) bool { return target == ErrHealthCheck }

func UnsupportedAsset(symbol string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
}

func NoPriceData(symbol, chain string) error {
	return fmt.Errorf("%w: %s on %s", ErrNoPriceData, symbol, chain)
}
