package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/Suhaibinator/routekit/pkg/metrics"
	"github.com/Suhaibinator/routekit/pkg/middleware"
	"github.com/Suhaibinator/routekit/pkg/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T, config Config, entries ...router.Entry) *Server {
	t.Helper()
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	reg := router.NewRegistry(config.Logger)
	for _, e := range entries {
		if err := reg.Add(e); err != nil {
			t.Fatalf("Failed to add route: %v", err)
		}
	}
	return New(config, reg.Routes())
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

// TestServerParams tests that path parameters reach the handler
func TestServerParams(t *testing.T) {
	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/users/:id",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, "user "+srv.Param(r, "id")), nil
	}))

	rr := serve(s, "GET", "/users/42")
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.String() != "user 42" {
		t.Errorf("Expected body %q, got %q", "user 42", rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("Expected Content-Type %q, got %q", "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	}
}

// TestServerMethods tests that several methods on one path are dispatched separately
func TestServerMethods(t *testing.T) {
	reg := router.NewRegistry(zap.NewNop())
	reg.MustAdd(router.Route(router.RouteOptions{Method: common.MethodGet, Path: "/items"},
		func(r *http.Request, srv common.Server) (*common.Response, error) {
			return common.Text(http.StatusOK, "list"), nil
		})).
		MustAdd(router.Route(router.RouteOptions{Method: common.MethodPost, Path: "/items"},
			func(r *http.Request, srv common.Server) (*common.Response, error) {
				return common.Text(http.StatusCreated, "created"), nil
			}))
	s := New(Config{Logger: zap.NewNop()}, reg.Routes())

	if rr := serve(s, "GET", "/items"); rr.Body.String() != "list" {
		t.Errorf("Expected body %q, got %q", "list", rr.Body.String())
	}
	if rr := serve(s, "POST", "/items"); rr.Code != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, rr.Code)
	}
	if rr := serve(s, "DELETE", "/items"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
	if rr := serve(s, "GET", "/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, rr.Code)
	}
}

// TestServerUnexposedRoute tests that unexposed routes answer 404 without running anything
func TestServerUnexposedRoute(t *testing.T) {
	ran := false
	mw := func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		ran = true
		return next()
	}

	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method:      common.MethodGet,
		Path:        "/hidden",
		Expose:      router.Bool(false),
		Middlewares: []router.Middleware{mw},
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		ran = true
		return common.Text(http.StatusOK, "visible"), nil
	}))

	rr := serve(s, "GET", "/hidden")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", rr.Body.String())
	}
	if ran {
		t.Errorf("Expected neither middleware nor handler to run")
	}
}

// TestServerNilResponse tests that a nil response is written as an empty 200
func TestServerNilResponse(t *testing.T) {
	s := newTestServer(t, Config{},
		router.Route(router.RouteOptions{Method: common.MethodGet, Path: "/nil"},
			func(r *http.Request, srv common.Server) (*common.Response, error) {
				return nil, nil
			}),
		router.Route(router.RouteOptions{Method: common.MethodGet, Path: "/zero"},
			func(r *http.Request, srv common.Server) (*common.Response, error) {
				resp := &common.Response{Body: []byte("zero")}
				resp.SetHeader("X-Custom", "yes")
				return resp, nil
			}),
	)

	rr := serve(s, "GET", "/nil")
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("Expected empty 200, got %d %q", rr.Code, rr.Body.String())
	}

	rr = serve(s, "GET", "/zero")
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Header().Get("X-Custom") != "yes" {
		t.Errorf("Expected X-Custom header %q, got %q", "yes", rr.Header().Get("X-Custom"))
	}
}

// TestServerNextCalledTwice tests that a reused continuation becomes a logged 500
func TestServerNextCalledTwice(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	twice := func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		if _, err := next(); err != nil {
			return nil, err
		}
		return next()
	}

	s := newTestServer(t, Config{Logger: zap.New(core)}, router.Route(router.RouteOptions{
		Method:      common.MethodGet,
		Path:        "/twice",
		Middlewares: []router.Middleware{twice},
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, "OK"), nil
	}))

	rr := serve(s, "GET", "/twice")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, rr.Code)
	}

	entries := logs.FilterMessage("Handler error").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one error log entry, got %d", len(entries))
	}
	if !strings.Contains(entries[0].ContextMap()["error"].(string), common.ErrNextCalledMultipleTimes.Error()) {
		t.Errorf("Expected logged error to mention %q, got %v", common.ErrNextCalledMultipleTimes, entries[0].ContextMap()["error"])
	}
}

// TestServerHTTPError tests that HTTPError decides the status and message
func TestServerHTTPError(t *testing.T) {
	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/teapot",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return nil, common.NewHTTPError(http.StatusTeapot, "I'm a teapot")
	}))

	rr := serve(s, "GET", "/teapot")
	if rr.Code != http.StatusTeapot {
		t.Errorf("Expected status code %d, got %d", http.StatusTeapot, rr.Code)
	}
	if rr.Body.String() != "I'm a teapot\n" {
		t.Errorf("Expected body %q, got %q", "I'm a teapot\n", rr.Body.String())
	}
}

// TestServerPanicRecovery tests that handler panics become 500 responses
func TestServerPanicRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := newTestServer(t, Config{Logger: zap.New(core)}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/panic",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		panic("test panic")
	}))

	rr := serve(s, "GET", "/panic")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if logs.FilterMessage("Panic recovered").Len() != 1 {
		t.Errorf("Expected one panic log entry, got %d", logs.FilterMessage("Panic recovered").Len())
	}
}

// TestServerGlobalTimeout tests the global timeout
func TestServerGlobalTimeout(t *testing.T) {
	s := newTestServer(t, Config{GlobalTimeout: 20 * time.Millisecond}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/slow",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		time.Sleep(200 * time.Millisecond)
		return common.Text(http.StatusOK, "late"), nil
	}))

	rr := serve(s, "GET", "/slow")
	if rr.Code != http.StatusRequestTimeout {
		t.Errorf("Expected status code %d, got %d", http.StatusRequestTimeout, rr.Code)
	}
}

// TestServerMaxBodySize tests the global body size limit
func TestServerMaxBodySize(t *testing.T) {
	s := newTestServer(t, Config{GlobalMaxBodySize: 8}, router.Route(router.RouteOptions{
		Method: common.MethodPost,
		Path:   "/upload",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		if _, err := io.ReadAll(r.Body); err != nil {
			return nil, common.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large")
		}
		return common.Text(http.StatusOK, "OK"), nil
	}))

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("POST", "/upload", strings.NewReader("this is far too long")))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status code %d, got %d", http.StatusRequestEntityTooLarge, rr.Code)
	}
}

// TestServerShutdown tests that requests after Shutdown are rejected with 503
func TestServerShutdown(t *testing.T) {
	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, "OK"), nil
	}))

	if rr := serve(s, "GET", "/"); rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if rr := serve(s, "GET", "/"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status code %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

// TestServerShutdownWaits tests that Shutdown waits for in-flight requests
func TestServerShutdownWaits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/wait",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		close(started)
		<-release
		return common.Text(http.StatusOK, "OK"), nil
	}))

	go serve(s, "GET", "/wait")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected %v, got %v", context.DeadlineExceeded, err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := s.Shutdown(ctx2); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

// TestServerShutdownWaitsForTimedOutHandler checks that draining covers handlers
// that outlived the global timeout
func TestServerShutdownWaitsForTimedOutHandler(t *testing.T) {
	release := make(chan struct{})
	s := newTestServer(t, Config{GlobalTimeout: 10 * time.Millisecond}, router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/stuck",
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		<-release
		return common.Text(http.StatusOK, "OK"), nil
	}))

	rr := serve(s, "GET", "/stuck")
	if rr.Code != http.StatusRequestTimeout {
		t.Fatalf("Expected status code %d, got %d", http.StatusRequestTimeout, rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected %v, got %v", context.DeadlineExceeded, err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := s.Shutdown(ctx2); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

// TestServerCORSPreflight checks that a registered OPTIONS route lets CORS answer preflights
func TestServerCORSPreflight(t *testing.T) {
	called := false
	s := newTestServer(t, Config{}, router.Route(router.RouteOptions{
		Method:      common.MethodOptions,
		Path:        "/items",
		Middlewares: []router.Middleware{middleware.CORS([]string{"https://example.com"}, []string{"GET"}, nil)},
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		called = true
		return common.Text(http.StatusOK, "OK"), nil
	}))

	rr := serve(s, "OPTIONS", "/items")
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Errorf("Expected Access-Control-Allow-Origin %q, got %q", "https://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if called {
		t.Errorf("Expected the preflight not to reach the handler")
	}
}

// TestServerClientIP tests client IP resolution through the server context
func TestServerClientIP(t *testing.T) {
	handler := func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, srv.ClientIP(r)), nil
	}
	s := newTestServer(t, Config{IPConfig: &middleware.IPConfig{Source: middleware.IPSourceXRealIP, TrustProxy: true}},
		router.Route(router.RouteOptions{Method: common.MethodGet, Path: "/ip"}, handler))

	req := httptest.NewRequest("GET", "/ip", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Body.String() != "203.0.113.9" {
		t.Errorf("Expected client IP %q, got %q", "203.0.113.9", rr.Body.String())
	}
}

// TestServerMetrics tests request logging and the Prometheus endpoint
func TestServerMetrics(t *testing.T) {
	collector, err := metrics.NewCollector(metrics.Config{
		Namespace:    "routekit",
		Subsystem:    "test",
		EnableQPS:    true,
		EnableErrors: true,
	})
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	core, logs := observer.New(zap.DebugLevel)
	s := newTestServer(t, Config{
		Logger:        zap.New(core),
		EnableMetrics: true,
		EnableTraceID: true,
		Metrics:       collector,
		MetricsPath:   "/metrics",
	}, router.Route(router.RouteOptions{
		Method:      common.MethodGet,
		Path:        "/items/:id",
		Middlewares: []router.Middleware{middleware.TraceMiddleware()},
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, srv.Param(r, "id")), nil
	}))

	req := httptest.NewRequest("GET", "/items/7", nil)
	req.Header.Set(middleware.TraceIDHeader, "trace-abc")
	s.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("Request metrics").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one request metrics log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["trace_id"] != "trace-abc" {
		t.Errorf("Expected trace_id %q, got %v", "trace-abc", entries[0].ContextMap()["trace_id"])
	}

	rr := serve(s, "GET", "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}
	want := `routekit_test_http_requests_total{method="GET",route="/items/:id",status="200"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("Expected metrics output to contain %q, got:\n%s", want, rr.Body.String())
	}
}

// TestServerAuthAndLogging installs an authenticated route with a request logger
func TestServerAuthAndLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	reg := router.NewRegistry(logger)
	reg.MustAdd(router.Route(router.RouteOptions{
		Method: common.MethodGet,
		Path:   "/secure",
		Middlewares: []router.Middleware{
			middleware.Logging(nil),
			middleware.NewBearerTokenMiddleware(map[string]bool{"secret": true}),
		},
	}, func(r *http.Request, srv common.Server) (*common.Response, error) {
		return common.Text(http.StatusOK, "welcome"), nil
	}))
	s := New(Config{Logger: logger}, reg.Routes())

	rr := serve(s, "GET", "/secure")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if logs.FilterMessage("Client error").Len() != 1 {
		t.Errorf("Expected the logger to record the rejected request")
	}

	req := httptest.NewRequest("GET", "/secure", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "welcome" {
		t.Errorf("Expected 200 %q, got %d %q", "welcome", rr.Code, rr.Body.String())
	}
}

// TestServerRun tests that Run serves until the context ends
func TestServerRun(t *testing.T) {
	s := newTestServer(t, Config{ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Expected Run to return after the context was canceled")
	}
}
