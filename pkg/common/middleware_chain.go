package common

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
)

// ErrNextCalledMultipleTimes is returned by a continuation that has already been invoked.
var ErrNextCalledMultipleTimes = errors.New("next() called multiple times")

// Compose combines middlewares and a terminal handler into a single handler.
// Middlewares run in slice order before the handler and unwind in reverse order after it.
// With no middlewares the terminal handler is returned unchanged.
func Compose(middlewares []Middleware, final Handler) Handler {
	if final == nil {
		panic("common: nil handler passed to Compose")
	}
	if len(middlewares) == 0 {
		return final
	}

	// Copy so later changes to the caller's slice do not leak into the handler.
	mws := make([]Middleware, len(middlewares))
	copy(mws, middlewares)
	for _, mw := range mws {
		if mw == nil {
			panic("common: nil middleware passed to Compose")
		}
	}

	return func(r *http.Request, srv Server) (*Response, error) {
		c := &chain{}
		WithValue(r, chainKey{}, c)

		var dispatch func(i int, req *http.Request) (*Response, error)
		dispatch = func(i int, req *http.Request) (*Response, error) {
			if i == len(mws) {
				return final(req, srv)
			}

			var called atomic.Bool
			next := func() (*Response, error) {
				if !called.CompareAndSwap(false, true) {
					return nil, ErrNextCalledMultipleTimes
				}
				target := req
				if detached := c.detached.Swap(nil); detached != nil {
					target = detached
				}
				return dispatch(i+1, target)
			}

			return mws[i](req, srv, next)
		}

		return dispatch(0, r)
	}
}

type chainKey struct{}

// chain is the state of one invocation of a composed handler.
type chain struct {
	detached atomic.Pointer[http.Request]
}

// Detach clones r with ctx and makes the calling middleware's next continuation
// run the rest of the chain against the clone. Values later stored with WithValue
// land on the clone, so r stays safe to read while that work runs on another
// goroutine. Outside a composed handler the clone is returned with no other effect.
func Detach(r *http.Request, ctx context.Context) *http.Request {
	inner := r.Clone(ctx)
	if c, ok := r.Context().Value(chainKey{}).(*chain); ok {
		c.detached.Store(inner)
	}
	return inner
}

// MiddlewareChain represents a chain of middleware
type MiddlewareChain []Middleware

// NewMiddlewareChain creates a new middleware chain
func NewMiddlewareChain(middlewares ...Middleware) MiddlewareChain {
	return middlewares
}

// Append adds middleware to the end of the chain.
// The receiver is never modified.
func (c MiddlewareChain) Append(middlewares ...Middleware) MiddlewareChain {
	result := make(MiddlewareChain, 0, len(c)+len(middlewares))
	result = append(result, c...)
	return append(result, middlewares...)
}

// Prepend adds middleware to the beginning of the chain
func (c MiddlewareChain) Prepend(middlewares ...Middleware) MiddlewareChain {
	result := make(MiddlewareChain, len(middlewares)+len(c))
	copy(result, middlewares)
	copy(result[len(middlewares):], c)
	return result
}

// Then applies the middleware chain to a handler
func (c MiddlewareChain) Then(h Handler) Handler {
	return Compose(c, h)
}
