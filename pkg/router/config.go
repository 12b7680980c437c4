// Package router builds route entries and collects them into a handler table
// that a host server installs at startup.
package router

import (
	"net/http"

	"github.com/Suhaibinator/routekit/pkg/common"
)

// Middleware is an alias for common.Middleware.
// It represents a function that intercepts a request before the route's handler runs.
type Middleware = common.Middleware

// Handler is an alias for common.Handler.
type Handler = common.Handler

// Method is an alias for common.Method.
type Method = common.Method

// RouteOptions defines the configuration for a single route.
type RouteOptions struct {
	Method      Method       // HTTP method this route handles
	Path        string       // Route path; may contain named parameters such as "/users/:id"
	Expose      *bool        // Whether the route is reachable; nil means true. Unexposed routes always answer 404
	Middlewares []Middleware // Middlewares applied to this route, outermost first
}

// exposed reports whether the options describe a reachable route.
func (o RouteOptions) exposed() bool {
	return o.Expose == nil || *o.Expose
}

// Bool returns a pointer to v, for use with RouteOptions.Expose.
func Bool(v bool) *bool {
	return &v
}

// MethodHandlers maps an HTTP method to the handler serving it.
type MethodHandlers map[Method]Handler

// Entry is a single route declaration: a path and the handlers bound to it.
type Entry struct {
	Path     string
	Handlers MethodHandlers
}

// Table is the path -> method -> handler mapping installed into a host server.
type Table map[string]MethodHandlers

// GenericHandler defines a handler function with typed request and response values.
// The codec decodes the request into T before the call and encodes the returned U afterwards.
type GenericHandler[T any, U any] func(r *http.Request, srv common.Server, data T) (U, error)

// Codec defines an interface for decoding request data and encoding response data.
// The codec package provides JSON and Protocol Buffers implementations.
type Codec[T any, U any] interface {
	// Decode extracts and deserializes data from an HTTP request into a value of type T.
	Decode(r *http.Request) (T, error)

	// Encode serializes a value of type U into a response, setting Content-Type.
	Encode(resp U) (*common.Response, error)
}
