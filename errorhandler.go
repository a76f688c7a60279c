package querybus

import "github.com/rs/zerolog"

// ErrorHandler decides the disposition of a single handler failure during
// scatter-gather: return nil to absorb it (the surviving successes are
// still yielded) or return an error to escalate, terminating the sequence.
type ErrorHandler interface {
	OnError(err error, q *Query, handler Handler) error
}

// ErrorHandlerFunc is a function adapter for ErrorHandler.
type ErrorHandlerFunc func(err error, q *Query, handler Handler) error

// OnError implements the ErrorHandler interface.
func (f ErrorHandlerFunc) OnError(err error, q *Query, handler Handler) error {
	return f(err, q, handler)
}

// LoggingErrorHandler logs each scatter-gather handler failure and absorbs
// it. This is the bus default.
func LoggingErrorHandler(logger zerolog.Logger) ErrorHandler {
	return loggingErrorHandler{logger: logger}
}

type loggingErrorHandler struct {
	logger zerolog.Logger
}

func (h loggingErrorHandler) OnError(err error, q *Query, _ Handler) error {
	h.logger.Error().Err(err).Str("query", q.Name).Msg("query handler failed during scatter-gather")
	return nil
}
