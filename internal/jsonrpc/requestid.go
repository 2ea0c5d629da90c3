package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC id, which may be a string or a number.
// A nil *RequestID (or one holding a nil value) marshals to JSON null and
// marks the enclosing message as a notification.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value as a request id. Unsupported
// types yield a nil-valued id.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// Value returns the underlying string or numeric value, or nil.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// String renders the id for logging and map keys. A nil id renders empty.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

// MarshalJSON implements json.Marshaler. Absent ids marshal to null so that
// parse-error responses carry the id the spec requires.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler, accepting strings, integers and
// floats (integral floats normalize to int64).
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("JSON-RPC id must be a string or number, got: %s", string(data))
}
