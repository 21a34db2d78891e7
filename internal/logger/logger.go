// Package logger provides the configured zerolog logger shared by the
// library and the pdtctl CLI.
package logger

import (
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

// New returns a JSON logger on stdout tagged with service. Call sites use
// .Stack() on error events to include stacks.
func New(service string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, zerolog.InfoLevel)
}

// NewWithWriter is New with an explicit sink and minimum level.
func NewWithWriter(w io.Writer, service string, level zerolog.Level) zerolog.Logger {
	// pkg/errors stacks are marshaled when present; plain errors get one
	// attached when .Stack() is used.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}

	return zerolog.New(w).Level(level).With().
		Str("service", service).
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
