// Package server hosts a route table produced by the router package on top of httprouter.
// It adapts handler responses to http.ResponseWriter and adds recovery, timeouts,
// body size limits, request metrics and graceful shutdown.
package server

import (
	"time"

	"github.com/Suhaibinator/routekit/pkg/metrics"
	"github.com/Suhaibinator/routekit/pkg/middleware"
	"go.uber.org/zap"
)

// Config defines the global configuration for the host server.
// Route-specific behaviour belongs in route middlewares so that routes which
// are not exposed never run any code besides the 404 handler.
type Config struct {
	Logger            *zap.Logger           // Logger for all server operations
	GlobalTimeout     time.Duration         // Default response timeout for all routes; 0 disables it
	GlobalMaxBodySize int64                 // Default maximum request body size in bytes; 0 disables it
	IPConfig          *middleware.IPConfig  // Configuration for client IP extraction
	EnableMetrics     bool                  // Enable request metrics logging and collection
	EnableTraceID     bool                  // Include trace IDs in log entries when present
	Metrics           *metrics.Collector    // Prometheus collector fed when EnableMetrics is set
	MetricsPath       string                // Path serving the collector's metrics; not served if empty
	ReadTimeout       time.Duration         // http.Server read timeout used by Run
	WriteTimeout      time.Duration         // http.Server write timeout used by Run
	IdleTimeout       time.Duration         // http.Server idle timeout used by Run
	ShutdownTimeout   time.Duration         // Time Run waits for in-flight requests; 30s if zero
}

const defaultShutdownTimeout = 30 * time.Second
