package thermabridge

import (
	"errors"
	"fmt"
	"strings"
)

// RemoteError is a failure reported by the peer as an SH_ERROR_TRACE reply.
type RemoteError struct {
	// Exception is the failure class named on the last traceback line
	// (e.g. "ValueError"), empty if the line does not name one.
	Exception string

	// Message is the rest of the last traceback line.
	Message string

	// Traceback is the full text sent by the peer.
	Traceback string
}

// NewRemoteError parses trace, whose last non-empty line is expected to read
// "Exception: message".
func NewRemoteError(trace string) *RemoteError {
	e := &RemoteError{Traceback: trace}
	lines := strings.Split(strings.TrimRight(trace, "\r\n\t "), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	name, msg, ok := strings.Cut(last, ":")
	if ok && name != "" && !strings.ContainsAny(name, " \t") {
		e.Exception, e.Message = name, strings.TrimSpace(msg)
	} else {
		e.Message = last
	}
	return e
}

// ToString formats the error with its traceback.
func (e *RemoteError) ToString() string {
	return fmt.Sprintf("%s: %s\n%s", e.Exception, e.Message, e.Traceback)
}

func (e *RemoteError) Error() string {
	if e.Exception == "" {
		return "thermabridge: remote error: " + e.Message
	}
	return fmt.Sprintf("thermabridge: remote %s: %s", e.Exception, e.Message)
}

// IsRemoteError reports whether err carries a *RemoteError and returns it.
func IsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}

// exceptionNamer lets interpreter errors choose the exception name written on
// the last traceback line.
type exceptionNamer interface {
	ExceptionName() string
}

// formatTrace renders a failure the way an interpreter traceback reads, so the
// peer can parse the last line into exception and message.
func formatTrace(exception, message, stack string) string {
	var sb strings.Builder
	sb.WriteString("Traceback (most recent call last):\n")
	for _, line := range strings.Split(strings.TrimRight(stack, "\n"), "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteString(exception)
	sb.WriteString(": ")
	// keep the failure on one line so it stays the last line
	sb.WriteString(strings.ReplaceAll(message, "\n", " "))
	return sb.String()
}

// traceOf formats err as traceback text. Errors that already carry a traceback
// (a *RemoteError or an *ErrorValue) are passed through unchanged.
func traceOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Traceback
	}
	var ev *ErrorValue
	if errors.As(err, &ev) {
		return ev.Text
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.trace()
	}
	name, msg := "Error", err.Error()
	var en exceptionNamer
	if errors.As(err, &en) {
		name = en.ExceptionName()
		// the name goes in front of the whole line, not in the middle of it
		if inner, ok := en.(error); ok {
			if bare, found := strings.CutPrefix(inner.Error(), name+": "); found {
				msg = strings.Replace(msg, inner.Error(), bare, 1)
			}
		}
	}
	return formatTrace(name, msg, "")
}
