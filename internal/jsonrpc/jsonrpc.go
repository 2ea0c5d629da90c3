// Package jsonrpc implements the JSON-RPC 2.0 message envelope used on every
// transport: requests, notifications, responses, and the standard error code
// families. It knows nothing about MCP semantics.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore must
// not receive a response.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// NewNotification builds a notification message for the given method. A nil
// params marshals to an absent params member.
func NewNotification(method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: Version, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal notification params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: Version,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// NewParseErrorResponse builds the id-null response mandated for input that
// could not be parsed as a JSON-RPC message.
func NewParseErrorResponse(err error) *Response {
	msg := "parse error"
	if err != nil {
		msg = "parse error: " + err.Error()
	}
	return NewErrorResponse(nil, ErrorCodeParseError, msg, nil)
}

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// UnmarshalJSON enforces JSON-RPC 2.0 structural rules while decoding.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type raw AnyMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if r.JSONRPCVersion != Version {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, r.JSONRPCVersion)
	}
	hasMethod := r.Method != ""
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request message cannot carry result or error")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response message cannot carry both result and error")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("message must be a request, notification, or response")
	}
	*m = AnyMessage(r)
	return nil
}

// AsRequest returns the message as a Request if it carries a method, else nil.
// Notifications are requests with a nil ID.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the message as a Response if it carries no method, else nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
