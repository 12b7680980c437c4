package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Use the Middleware type from the common package
type Middleware = common.Middleware

// Recovery is a middleware that recovers from panics in the rest of the chain
// and turns them into a 500 Internal Server Error response.
func Recovery() Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (resp *common.Response, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				srv.Logger().Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)

				resp = common.Text(http.StatusInternalServerError, "Internal Server Error")
				err = nil
			}
		}()

		return next()
	}
}

// Logging is a middleware that logs requests.
// If logger is nil, the server's logger is used.
func Logging(logger *zap.Logger) Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		log := logger
		if log == nil {
			log = srv.Logger()
		}

		start := time.Now()
		resp, err := next()
		duration := time.Since(start)

		status := resp.StatusCode()
		if err != nil {
			status = http.StatusInternalServerError
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}
		if traceID := GetTraceID(r); traceID != "" {
			fields = append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
		}

		// Use appropriate log level based on status code and duration
		switch {
		case err != nil:
			log.Error("Request failed", append(fields, zap.Error(err))...)
		case status >= 500:
			log.Error("Server error", append(fields, zap.String("client_ip", srv.ClientIP(r)))...)
		case status >= 400:
			log.Warn("Client error", fields...)
		case duration > 1*time.Second:
			log.Warn("Slow request", fields...)
		default:
			log.Debug("Request", fields...)
		}

		return resp, err
	}
}

// MaxBodySize is a middleware that limits the size of the request body.
// Reads past the limit fail with *http.MaxBytesError.
func MaxBodySize(maxSize int64) Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(nil, r.Body, maxSize)
		}
		return next()
	}
}

// Timeout is a middleware that bounds the time the rest of the chain may take.
// The rest of the chain runs on its own goroutine against a copy of the request
// whose context is canceled after timeout; if it has not returned by then, a
// 408 Request Timeout response is returned and the late result is discarded.
// Context values stored below Timeout are not visible to the middlewares above it.
func Timeout(timeout time.Duration) Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		common.Detach(r, ctx)

		type result struct {
			resp *common.Response
			err  error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				// Panics on this goroutine cannot reach an outer Recovery.
				if rec := recover(); rec != nil {
					done <- result{err: errors.Errorf("panic: %v", rec)}
				}
			}()
			resp, err := next()
			done <- result{resp: resp, err: err}
		}()

		select {
		case res := <-done:
			return res.resp, res.err
		case <-ctx.Done():
			srv.Logger().Error("Request timed out",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("timeout", timeout),
			)
			return common.Text(http.StatusRequestTimeout, "Request Timeout"), nil
		}
	}
}

// CORS is a middleware that adds CORS headers to the response.
// Preflight OPTIONS requests are answered directly with 200. The host server only
// routes a preflight here when an OPTIONS route is registered for the path;
// otherwise httprouter answers it before any middleware runs.
func CORS(origins []string, methods []string, headers []string) Middleware {
	setHeaders := func(resp *common.Response) {
		if len(origins) > 0 {
			resp.SetHeader("Access-Control-Allow-Origin", strings.Join(origins, ", "))
		}
		if len(methods) > 0 {
			resp.SetHeader("Access-Control-Allow-Methods", strings.Join(methods, ", "))
		}
		if len(headers) > 0 {
			resp.SetHeader("Access-Control-Allow-Headers", strings.Join(headers, ", "))
		}
	}

	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		if r.Method == http.MethodOptions {
			resp := common.NewResponse(http.StatusOK, nil)
			setHeaders(resp)
			return resp, nil
		}

		resp, err := next()
		if err != nil {
			return resp, err
		}
		if resp == nil {
			resp = &common.Response{}
		}
		setHeaders(resp)
		return resp, nil
	}
}

// Headers is a middleware that sets fixed headers on every response.
func Headers(headers map[string]string) Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		resp, err := next()
		if err != nil {
			return resp, err
		}
		if resp == nil {
			resp = &common.Response{}
		}
		for key, value := range headers {
			resp.SetHeader(key, value)
		}
		return resp, nil
	}
}
