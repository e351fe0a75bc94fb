// Package logging provides a minimal logging interface and adapters for ragmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the broker and agents use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - MeshLogger with contextual helpers (component, workflow, trace) and
//     domain specific helpers for dispatch, retrieval and model calls
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh, err := ragmesh.New(func(o *ragmesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
