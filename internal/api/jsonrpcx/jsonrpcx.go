package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Version is the only supported protocol version
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id,omitempty"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RequestT documents a request with typed params (swagger only)
type RequestT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Method  string `json:"method"`
	Params  T      `json:"params"`
	ID      any    `json:"id"`
}

// ResponseT documents a response with a typed result (swagger only)
type ResponseT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Result  T      `json:"result"`
	ID      any    `json:"id"`
}

// ErrorResponse documents an error response (swagger only)
type ErrorResponse struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Error   Error  `json:"error"`
	ID      any    `json:"id"`
}

// Notification is a JSON-RPC 2.0 request without an id. Server push
// channels use it for events.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a notification for method
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Application errors
	NotFound = -32004
)

// ErrInvalidVersion is returned for requests that are not JSON-RPC 2.0
var ErrInvalidVersion = errors.New("jsonrpc version must be 2.0")

type contextKey string

const errorContextKey contextKey = "jsonrpc_error"

// ParseRequest parses JSON-RPC 2.0 request from HTTP request body
func ParseRequest(r *http.Request) (*Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	if req.JSONRPC != Version {
		return nil, ErrInvalidVersion
	}

	return &req, nil
}

// DecodeParams unmarshals params into v. Empty params leave v untouched.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	Write(w, Response{
		JSONRPC: Version,
		Result:  result,
		ID:      id,
	})
}

// WithError attaches an error to the request context for the ErrorAdapter
// middleware. The request is updated in place so the middleware sees it.
func WithError(r *http.Request, id any, code int, message string) {
	*r = *SetError(r, id, code, message)
}

// SetError returns a copy of r carrying a JSON-RPC error
func SetError(r *http.Request, id any, code int, message string) *http.Request {
	response := &Response{
		JSONRPC: Version,
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	ctx := context.WithValue(r.Context(), errorContextKey, response)
	return r.WithContext(ctx)
}

// ErrorFromContext returns the error response stored by WithError
func ErrorFromContext(ctx context.Context) (*Response, bool) {
	response, ok := ctx.Value(errorContextKey).(*Response)
	return response, ok
}

// ErrorAdapter interface for middleware to send error responses
type ErrorAdapter interface {
	SendError(w http.ResponseWriter, id any, code int, message string)
}

type errorAdapter struct{}

// NewErrorAdapter creates a new error adapter for middleware use
func NewErrorAdapter() ErrorAdapter {
	return &errorAdapter{}
}

// SendError sends an error JSON-RPC 2.0 response
func (ea *errorAdapter) SendError(w http.ResponseWriter, id any, code int, message string) {
	Write(w, Response{
		JSONRPC: Version,
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	})
}

// Write sends a JSON-RPC 2.0 response (always HTTP 200)
func Write(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// Encode errors surface in the logging middleware via the status code only
	_ = json.NewEncoder(w).Encode(response)
}
