// Package diag holds the process's own diagnostics logging.
package diag

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// NewLogger returns a console logger on stderr at the given level name.
// Unknown names fall back to info.
func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stderr, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// ErrorHandler logs failures that have no caller to return to.
type ErrorHandler struct {
	logger zerolog.Logger
}

func NewErrorHandler(logger zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	event := h.logger.Error()
	if errors.Is(err, logging.ErrReplyAbandoned) {
		event = h.logger.Warn()
	}
	event.Err(err).Msg("Log export failed")
}

var _ logging.ErrorHandler = (*ErrorHandler)(nil)
