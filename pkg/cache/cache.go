package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	ErrCacheMiss   = errors.New("cache: key not found")
	ErrInvalidDest = errors.New("cache: destination must be a non-nil pointer")
)

// Service defines cache backend operations.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeleteByPattern removes keys matching a glob pattern and returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}

// assign copies value into dest. Values of the destination type are assigned
// directly; anything else goes through a JSON round trip.
func assign(dest, value interface{}) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidDest
	}
	elem := rv.Elem()

	if value == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	vv := reflect.ValueOf(value)
	if vv.Type().AssignableTo(elem.Type()) {
		elem.Set(vv)
		return nil
	}
	if vv.Kind() == reflect.Pointer && !vv.IsNil() && vv.Elem().Type().AssignableTo(elem.Type()) {
		elem.Set(vv.Elem())
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: unmarshal: %w", err)
	}
	return nil
}
