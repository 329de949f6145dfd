// Package status carries progress updates from the contribution core to the
// presentation layer. The core never formats for a specific UI; the sink is
// its only outward channel.
package status

import "github.com/rs/zerolog"

// Update is one status emission. AttestationRef is set only on the final
// update of a successful session.
type Update struct {
	Message        string
	Busy           bool
	AttestationRef string
}

// Sink consumes updates from the contribution core.
type Sink interface {
	Emit(Update)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Update)

func (f SinkFunc) Emit(u Update) { f(u) }

// Discard drops every update. Useful default for tests and headless runs.
var Discard Sink = SinkFunc(func(Update) {})

// LogSink forwards updates to a zerolog logger.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink builds a sink that logs updates at info level.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "status").Logger()}
}

func (s *LogSink) Emit(u Update) {
	evt := s.log.Info().Bool("busy", u.Busy)
	if u.AttestationRef != "" {
		evt = evt.Str("attestation_ref", u.AttestationRef)
	}
	evt.Msg(u.Message)
}

// Tee duplicates updates to every provided sink, in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(u Update) {
		for _, s := range sinks {
			s.Emit(u)
		}
	})
}
