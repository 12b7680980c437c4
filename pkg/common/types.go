// Package common provides shared types and utilities used across the routekit framework.
package common

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Method is an HTTP method accepted by the route registry.
// The set is closed: only the constants below are recognized.
type Method string

const (
	MethodGet     Method = http.MethodGet
	MethodPost    Method = http.MethodPost
	MethodPut     Method = http.MethodPut
	MethodDelete  Method = http.MethodDelete
	MethodPatch   Method = http.MethodPatch
	MethodHead    Method = http.MethodHead
	MethodOptions Method = http.MethodOptions
)

// Methods lists every recognized method in a stable order.
var Methods = []Method{
	MethodGet,
	MethodPost,
	MethodPut,
	MethodDelete,
	MethodPatch,
	MethodHead,
	MethodOptions,
}

// Valid reports whether m is one of the recognized HTTP methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead, MethodOptions:
		return true
	}
	return false
}

// String returns the method name.
func (m Method) String() string {
	return string(m)
}

// Response is the value a handler or middleware returns.
// A zero Status is treated as 200 OK by the host server.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse creates a response with the given status and body.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
		Body:   body,
	}
}

// Text creates a text/plain response.
func Text(status int, body string) *Response {
	resp := NewResponse(status, []byte(body))
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// StatusCode returns the effective status code of the response.
func (r *Response) StatusCode() int {
	if r == nil || r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// SetHeader sets a response header, allocating the header map if needed.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
}

// Server is the server-context value handed to every handler and middleware.
// It gives access to what the host server knows about the request.
type Server interface {
	// Logger returns the logger of the host server.
	Logger() *zap.Logger
	// ClientIP returns the client address resolved by the host server.
	ClientIP(r *http.Request) string
	// Param returns the value of a named path parameter, or "" if absent.
	Param(r *http.Request, name string) string
}

// Handler is a route's terminal handler.
type Handler func(r *http.Request, srv Server) (*Response, error)

// Next is the continuation a middleware calls to run the rest of the chain.
// It may be called at most once per middleware invocation.
type Next func() (*Response, error)

// Middleware intercepts a request before the terminal handler runs.
// It may return a response without calling next to short-circuit the chain.
// Code placed after the call to next runs once the rest of the chain has returned.
type Middleware func(r *http.Request, srv Server, next Next) (*Response, error)

// HTTPError represents an HTTP error with a status code and message.
// When returned from a handler, the host server uses the status code and message
// to generate the response sent to the client.
type HTTPError struct {
	StatusCode int    // HTTP status code (e.g., 400, 404, 500)
	Message    string // Error message to be sent in the response body
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTPError with the specified status code and message.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithValue stores a value in the request's context.
// Every step of a chain shares the same *http.Request, so the request is
// updated in place and later middlewares, the handler and the host server all
// observe the value. A middleware that runs the rest of the chain on another
// goroutine must Detach first.
func WithValue(r *http.Request, key, value any) {
	*r = *r.WithContext(context.WithValue(r.Context(), key, value))
}
