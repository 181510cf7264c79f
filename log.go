package cardano

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var log = zerolog.New(nil).Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.TimeOnly,
}).With().Timestamp().Logger()

// Log returns the package logger. Components derive their own loggers from it
// so a single SetGlobalLevel call governs all of them.
func Log() *zerolog.Logger {
	return &log
}

func init() {
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// StackTracerMessage formats the stack of the first error in err's chain that
// carries one.
func StackTracerMessage(err error) string {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}

	var errString string

	var st stackTracer
	if errors.As(err, &st) {
		for _, f := range st.StackTrace() {
			errString += fmt.Sprintf("%+v\n", f)
		}
	}

	return errString
}
