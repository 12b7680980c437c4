package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/Suhaibinator/routekit/pkg/middleware"
	"github.com/Suhaibinator/routekit/pkg/router"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Server installs a route table into httprouter and serves it.
// It implements http.Handler and common.Server.
type Server struct {
	config     Config
	router     *httprouter.Router
	logger     *zap.Logger
	wg         sync.WaitGroup
	shutdown   bool
	shutdownMu sync.RWMutex
}

var _ common.Server = (*Server)(nil)

// contextKey is a type for context keys.
type contextKey string

const (
	// ParamsKey is the key used to store httprouter.Params in the request context.
	ParamsKey contextKey = "params"
)

// New creates a Server with the given configuration and installs routes.
func New(config Config, routes router.Table) *Server {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	s := &Server{
		config: config,
		router: httprouter.New(),
		logger: logger,
	}

	if config.Metrics != nil && config.MetricsPath != "" {
		s.router.Handler(http.MethodGet, config.MetricsPath, config.Metrics.Handler())
	}

	s.Install(routes)
	return s
}

// Install registers every (path, method) pair of the table with the underlying router.
// Paths are installed in sorted order so that conflicts are reported deterministically.
// httprouter panics on conflicting patterns.
func (s *Server) Install(routes router.Table) {
	paths := make([]string, 0, len(routes))
	for path := range routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		for method, handler := range routes[path] {
			if handler == nil {
				continue
			}
			s.router.Handle(method.String(), path, s.handle(path, handler))
			s.logger.Debug("Route installed",
				zap.String("method", method.String()),
				zap.String("path", path),
			)
		}
	}
}

// handle converts a route handler to an httprouter.Handle.
// pattern is the registered path, used to label metrics.
func (s *Server) handle(pattern string, handler common.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		// First add to the wait group before checking shutdown status
		s.wg.Add(1)

		s.shutdownMu.RLock()
		isShutdown := s.shutdown
		s.shutdownMu.RUnlock()

		if isShutdown {
			s.wg.Done()
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		defer s.wg.Done()

		start := time.Now()
		if s.config.EnableMetrics && s.config.Metrics != nil {
			defer s.config.Metrics.Begin()()
		}

		req = req.WithContext(context.WithValue(req.Context(), ParamsKey, ps))

		if s.config.GlobalMaxBodySize > 0 && req.Body != nil {
			req.Body = http.MaxBytesReader(w, req.Body, s.config.GlobalMaxBodySize)
		}

		resp, err := s.serve(req, handler)
		status, size := s.write(w, req, resp, err)

		if s.config.EnableMetrics {
			s.observe(req, pattern, status, size, time.Since(start))
		}
	}
}

// serve runs the handler, bounded by the global timeout if one is configured.
func (s *Server) serve(req *http.Request, handler common.Handler) (*common.Response, error) {
	timeout := s.config.GlobalTimeout
	if timeout <= 0 {
		return s.invoke(req, handler)
	}

	method, path := req.Method, req.URL.Path
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	req = req.WithContext(ctx)

	type result struct {
		resp *common.Response
		err  error
	}
	done := make(chan result, 1)
	// The handler may outlive the request; Shutdown still waits for it.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.invoke(req, handler)
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		s.logger.Error("Request timed out",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("timeout", timeout),
		)
		return common.Text(http.StatusRequestTimeout, "Request Timeout"), nil
	}
}

// invoke calls the handler and turns a panic into a 500 response.
func (s *Server) invoke(req *http.Request, handler common.Handler) (resp *common.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fields := []zap.Field{
				zap.Any("panic", rec),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			}
			s.logger.Error("Panic recovered", s.withTraceID(req, fields)...)

			resp = common.Text(http.StatusInternalServerError, "Internal Server Error")
			err = nil
		}
	}()

	return handler(req, s)
}

// write sends the handler's result to the client and returns the status and body size written.
// A nil response is written as 200 with an empty body.
func (s *Server) write(w http.ResponseWriter, req *http.Request, resp *common.Response, err error) (int, int) {
	if err != nil {
		return s.handleError(w, req, err)
	}
	if resp == nil {
		resp = &common.Response{}
	}

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}

	status := resp.StatusCode()
	w.WriteHeader(status)
	if len(resp.Body) == 0 {
		return status, 0
	}

	n, werr := w.Write(resp.Body)
	if werr != nil {
		s.logger.Debug("Failed to write response body",
			zap.Error(werr),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
	}
	return status, n
}

// handleError logs the error and answers with its status.
// A *common.HTTPError decides the status code and message; any other error is a 500.
func (s *Server) handleError(w http.ResponseWriter, req *http.Request, err error) (int, int) {
	statusCode := http.StatusInternalServerError
	message := http.StatusText(statusCode)

	var httpErr *common.HTTPError
	if errors.As(err, &httpErr) {
		statusCode = httpErr.StatusCode
		message = httpErr.Message
	}

	fields := s.withTraceID(req, []zap.Field{
		zap.Error(err),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", statusCode),
	})
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("Handler error", fields...)
	} else {
		s.logger.Warn("Handler error", fields...)
	}

	http.Error(w, message, statusCode)
	return statusCode, len(message) + 1
}

// observe logs request metrics and feeds the Prometheus collector.
func (s *Server) observe(req *http.Request, pattern string, status, size int, duration time.Duration) {
	if s.config.Metrics != nil {
		s.config.Metrics.Observe(req.Method, pattern, status, size, duration)
	}

	fields := s.withTraceID(req, []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Int("bytes", size),
	})

	// Use Debug level for metrics to avoid log spam
	s.logger.Debug("Request metrics", fields...)

	if duration > 1*time.Second {
		s.logger.Warn("Slow request", fields...)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Server error", fields...)
	}
}

// withTraceID prepends the trace ID to fields if enabled and present.
func (s *Server) withTraceID(req *http.Request, fields []zap.Field) []zap.Field {
	if !s.config.EnableTraceID {
		return fields
	}
	if traceID := middleware.GetTraceID(req); traceID != "" {
		return append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
	}
	return fields
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// Logger returns the server's logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// ClientIP returns the client IP stored by middleware.ClientIPMiddleware, or
// resolves it from the request using the configured IPConfig.
func (s *Server) ClientIP(r *http.Request) string {
	if ip := middleware.ClientIP(r); ip != "" {
		return ip
	}
	return middleware.ExtractClientIP(r, s.config.IPConfig)
}

// Param returns the value of a named path parameter.
func (s *Server) Param(r *http.Request, name string) string {
	return GetParam(r, name)
}

// Shutdown gracefully shuts down the server.
// It stops accepting new requests and waits for existing requests to complete,
// including handlers still running after their request hit the global timeout.
// If the context is canceled before all requests complete, it returns the context's error.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run listens on addr and serves until ctx is done, then drains in-flight
// requests and stops the listener.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "drain requests")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// GetParams retrieves the httprouter.Params from the request context.
func GetParams(r *http.Request) httprouter.Params {
	params, _ := r.Context().Value(ParamsKey).(httprouter.Params)
	return params
}

// GetParam retrieves a specific parameter from the request context.
func GetParam(r *http.Request, name string) string {
	return GetParams(r).ByName(name)
}
