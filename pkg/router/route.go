package router

import (
	"net/http"
	"strings"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NotFound is the handler bound to routes that are not exposed.
// It always answers 404 with an empty body.
func NotFound(r *http.Request, srv common.Server) (*common.Response, error) {
	return &common.Response{Status: http.StatusNotFound}, nil
}

// Route creates a route entry from the options and the final handler.
// If the route is not exposed, NotFound is bound instead and neither the handler
// nor the middlewares ever run. If middlewares are provided they are composed
// with the handler; otherwise the handler is used as is.
func Route(opts RouteOptions, handler Handler) Entry {
	if !opts.exposed() {
		return Entry{
			Path:     opts.Path,
			Handlers: MethodHandlers{opts.Method: NotFound},
		}
	}

	if handler == nil {
		panic("router: nil handler passed to Route")
	}

	return Entry{
		Path:     opts.Path,
		Handlers: MethodHandlers{opts.Method: common.Compose(opts.Middlewares, handler)},
	}
}

// GenericRoute creates a route entry whose handler works on typed values.
// The codec decodes the request before the handler runs and encodes its result.
// Decode failures answer 400; handler errors are returned to the host server unchanged.
func GenericRoute[T any, U any](opts RouteOptions, codec Codec[T, U], handler GenericHandler[T, U]) Entry {
	if codec == nil {
		panic("router: nil codec passed to GenericRoute")
	}
	if handler == nil {
		panic("router: nil handler passed to GenericRoute")
	}

	return Route(opts, func(r *http.Request, srv common.Server) (*common.Response, error) {
		data, err := codec.Decode(r)
		if err != nil {
			srv.Logger().Warn("Failed to decode request",
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			return nil, common.NewHTTPError(http.StatusBadRequest, "Failed to decode request")
		}

		resp, err := handler(r, srv, data)
		if err != nil {
			return nil, err
		}

		out, err := codec.Encode(resp)
		if err != nil {
			return nil, errors.Wrap(err, "encode response")
		}
		return out, nil
	})
}

// Group declares routes that share a path prefix and leading middlewares.
type Group struct {
	PathPrefix  string       // Common path prefix for all routes in this group
	Middlewares []Middleware // Middlewares applied before each route's own middlewares
}

// Route creates a route entry inside the group.
func (g Group) Route(opts RouteOptions, handler Handler) Entry {
	return Route(g.Options(opts), handler)
}

// Group returns a nested group whose prefix and middlewares extend g's.
func (g Group) Group(prefix string, middlewares ...Middleware) Group {
	return Group{
		PathPrefix:  joinPath(g.PathPrefix, prefix),
		Middlewares: common.NewMiddlewareChain(g.Middlewares...).Append(middlewares...),
	}
}

// Options returns opts with the group's prefix and middlewares applied.
// Use it with GenericRoute to declare typed routes inside a group.
func (g Group) Options(opts RouteOptions) RouteOptions {
	opts.Path = joinPath(g.PathPrefix, opts.Path)
	opts.Middlewares = common.NewMiddlewareChain(g.Middlewares...).Append(opts.Middlewares...)
	return opts
}

// joinPath concatenates a prefix and a path without doubling the separator.
func joinPath(prefix, path string) string {
	if prefix == "" {
		return path
	}
	if path == "" {
		return prefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}
