package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// consoleTimeFormat matches the HH:MM:SS prefix used for service output.
const consoleTimeFormat = "15:04:05"

// SidecarSink writes relayed sidecar lines: informational lines to one
// writer and error lines to another.
type SidecarSink struct {
	info   zerolog.Logger
	errors zerolog.Logger
}

// NewSidecarSink returns a sink writing to stdout and stderr.
func NewSidecarSink(structured bool) *SidecarSink {
	return NewSidecarSinkTo(os.Stdout, os.Stderr, structured)
}

// NewSidecarSinkTo returns a sink writing info lines to out and error lines to errOut.
func NewSidecarSinkTo(out, errOut io.Writer, structured bool) *SidecarSink {
	return &SidecarSink{
		info:   newZerolog(out, structured),
		errors: newZerolog(errOut, structured),
	}
}

func newZerolog(w io.Writer, structured bool) zerolog.Logger {
	if !structured {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    true,
			TimeFormat: consoleTimeFormat,
		}
	}
	return zerolog.New(w).With().Timestamp().Str("source", "sidecar").Logger()
}

// Info implements sidecar.Sink.
func (s *SidecarSink) Info(line string) {
	s.info.Info().Msg(line)
}

// Error implements sidecar.Sink.
func (s *SidecarSink) Error(line string) {
	s.errors.Error().Msg(line)
}
