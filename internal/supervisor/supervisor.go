// Package supervisor runs the long-lived services of the process under a
// suture supervisor.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Defaults match suture's own.
const (
	DefaultFailureThreshold = 5.0
	DefaultFailureDecay     = 30.0
	DefaultFailureBackoff   = 15 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
)

// New returns a root supervisor named name that logs its events to log.
func New(name string, log zerolog.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: DefaultFailureThreshold,
		FailureDecay:     DefaultFailureDecay,
		FailureBackoff:   DefaultFailureBackoff,
		Timeout:          DefaultShutdownTimeout,
	})
}

// EventHook logs supervisor events. Panics and terminations are errors,
// backoff transitions are warnings.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			e = log.Error()
		case suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			e = log.Warn()
		default:
			e = log.Info()
		}
		e.Fields(ev.Map()).Msg(ev.String())
	}
}
