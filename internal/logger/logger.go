package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Component constructors below derive
// tagged sub-loggers from it; nothing should build its own logger.
var Log zerolog.Logger

// Initialize configures the global logger. Call once at startup.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "orchestrator").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Scheduler creates a logger for placement/binding events.
func Scheduler() *zerolog.Logger { return component("scheduler") }

// Lease creates a logger for node health lease transitions.
func Lease() *zerolog.Logger { return component("lease") }

// Session creates a logger for agent session lifecycle events.
func Session() *zerolog.Logger { return component("session") }

// Workload creates a logger for deployment reconciliation events.
func Workload() *zerolog.Logger { return component("workload") }

// Routing creates a logger for routing-arbiter decisions.
func Routing() *zerolog.Logger { return component("routing") }

// Store creates a logger for cluster-store mutations.
func Store() *zerolog.Logger { return component("store") }

// Events creates a logger for event-sink delivery.
func Events() *zerolog.Logger { return component("events") }

// Auth creates a logger for authentication/identity events.
func Auth() *zerolog.Logger { return component("auth") }

// HTTP creates a logger for the admin/health HTTP surface.
func HTTP() *zerolog.Logger { return component("http") }
