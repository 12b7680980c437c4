package router

import (
	"fmt"

	"go.uber.org/zap"
)

// DuplicateRouteError is returned when a handler is already registered for a method and path.
type DuplicateRouteError struct {
	Method Method
	Path   string
}

// Error implements the error interface.
func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("route for %s %s already exists", e.Method, e.Path)
}

// Registry accumulates route entries into a handler table.
// It is meant to be filled once at startup and is not safe for concurrent Add calls.
type Registry struct {
	routes Table
	count  int
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		routes: make(Table),
		logger: logger,
	}
}

// Add registers every handler of the entry under its path.
// Handlers bound to unrecognized methods, and nil handlers, are skipped.
// If any (method, path) pair of the entry is already registered, Add returns a
// *DuplicateRouteError and leaves the registry unchanged.
func (reg *Registry) Add(e Entry) error {
	accepted := make(MethodHandlers, len(e.Handlers))
	existing := reg.routes[e.Path]

	for method, handler := range e.Handlers {
		if handler == nil {
			continue
		}
		if !method.Valid() {
			reg.logger.Warn("Ignoring route with unsupported method",
				zap.String("method", string(method)),
				zap.String("path", e.Path),
			)
			continue
		}
		if _, ok := existing[method]; ok {
			return &DuplicateRouteError{Method: method, Path: e.Path}
		}
		accepted[method] = handler
	}

	if len(accepted) == 0 {
		return nil
	}
	if existing == nil {
		existing = make(MethodHandlers, len(accepted))
		reg.routes[e.Path] = existing
	}
	for method, handler := range accepted {
		existing[method] = handler
		reg.count++

		reg.logger.Debug("Route registered",
			zap.String("method", string(method)),
			zap.String("path", e.Path),
		)
	}

	return nil
}

// MustAdd is like Add but panics if the entry cannot be registered.
// It returns the registry so declarations can be chained.
func (reg *Registry) MustAdd(e Entry) *Registry {
	if err := reg.Add(e); err != nil {
		panic(err)
	}
	return reg
}

// Routes returns a snapshot of the handler table.
// The returned maps are copies; handler values are shared.
func (reg *Registry) Routes() Table {
	snapshot := make(Table, len(reg.routes))
	for path, handlers := range reg.routes {
		methods := make(MethodHandlers, len(handlers))
		for method, handler := range handlers {
			methods[method] = handler
		}
		snapshot[path] = methods
	}
	return snapshot
}

// Len returns the number of registered (method, path) pairs.
func (reg *Registry) Len() int {
	return reg.count
}
