package ecoverify

import (
	"log/slog"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
)

// resolvedOptions holds the values collected from Option calls.
type resolvedOptions struct {
	logger       *slog.Logger
	version      string
	port         int
	buildingID   string
	checkpointer graph.Checkpointer
}

// Option configures New().
type Option func(*resolvedOptions)

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by /health and the
// discovery cards. Defaults to "dev".
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPort overrides the configured HTTP port.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithBuildingID overrides the monitored building.
func WithBuildingID(id string) Option {
	return func(o *resolvedOptions) { o.buildingID = id }
}

// WithCheckpointer injects a checkpoint store, bypassing the configured
// backend. The caller keeps ownership: Close is not called on it.
func WithCheckpointer(cp graph.Checkpointer) Option {
	return func(o *resolvedOptions) { o.checkpointer = cp }
}
