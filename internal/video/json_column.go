package video

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONColumn stores a Go value as a JSON text column. Both Postgres and
// the pure-Go sqlite driver used in tests accept it as a string.
type JSONColumn[T any] struct {
	Data T
}

// NewJSONColumn wraps a value for storage
func NewJSONColumn[T any](data T) JSONColumn[T] {
	return JSONColumn[T]{Data: data}
}

// Value implements driver.Valuer
func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *JSONColumn[T]) Scan(value interface{}) error {
	if value == nil {
		var zero T
		c.Data = zero
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSON column: %T", value)
	}
	if len(b) == 0 {
		var zero T
		c.Data = zero
		return nil
	}
	return json.Unmarshal(b, &c.Data)
}

// MarshalJSON exposes the wrapped value directly in API payloads
func (c JSONColumn[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Data)
}

// UnmarshalJSON fills the wrapped value from an API payload
func (c *JSONColumn[T]) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &c.Data)
}
