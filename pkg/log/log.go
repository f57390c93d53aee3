// Package log wraps zerolog with the child-logger-per-component convention
// used throughout the control plane and worker: every long-lived type
// builds its logger once, in its constructor, via one of the With*
// functions below, and carries it as a field rather than reaching back into
// a global.
package log

import (
	"io"
	"os"
	"time"

	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/rs/zerolog"
)

// Logger is the global logger instance new child loggers are derived from.
var Logger zerolog.Logger

// Level is a logging verbosity, parsed from config/flags.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init builds the global logger from cfg. JSONOutput selects plain
// newline-delimited JSON for log aggregation; otherwise output goes through
// zerolog's console writer for local/interactive use.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// levelCounterHook increments metrics.LogEventsTotal for every event a
// component's child logger emits, labeled by level and component, so log
// volume shows up on the same dashboards as the rest of the system.
type levelCounterHook struct {
	component string
}

func (h levelCounterHook) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	metrics.LogEventsTotal.WithLabelValues(level.String(), h.component).Inc()
}

func withComponentMetrics(l zerolog.Logger, component string) zerolog.Logger {
	return l.Hook(levelCounterHook{component: component})
}

// WithComponent builds a child logger tagged with a static component name
// (e.g. "scheduler", "reconciler") for a long-lived type's lifetime.
func WithComponent(component string) zerolog.Logger {
	return withComponentMetrics(Logger.With().Str("component", component).Logger(), component)
}

// WithNodeID builds a child logger tagged with node_id, for worker-side
// loops scoped to a single node's lifetime.
func WithNodeID(nodeID string) zerolog.Logger {
	return withComponentMetrics(Logger.With().Str("node_id", nodeID).Logger(), "worker")
}

// WithRunID builds a child logger tagged with run_id, for code following one
// run's lifecycle from dispatch through completion.
func WithRunID(runID string) zerolog.Logger {
	return withComponentMetrics(Logger.With().Str("run_id", runID).Logger(), "run")
}

// WithLeaseID builds a child logger tagged with lease_id, for code handling
// one lease's acquire/ack/complete cycle.
func WithLeaseID(leaseID string) zerolog.Logger {
	return withComponentMetrics(Logger.With().Str("lease_id", leaseID).Logger(), "lease")
}
