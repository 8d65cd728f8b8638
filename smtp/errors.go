package smtp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec.md §7. The dispatch loop
// (smtpserver.Server) maps these to response lines; a Session's
// Handle* methods return them instead of writing error
// responses directly, so callers (and tests) can use errors.Is.
var (
	// ErrParse indicates malformed command arguments.
	ErrParse = errors.New("smtp: parse error")
	// ErrBadSequence indicates the command is not allowed in the
	// session's current state.
	ErrBadSequence = errors.New("smtp: bad sequence of commands")
	// ErrAuthRequired indicates the command requires authentication
	// that has not occurred.
	ErrAuthRequired = errors.New("smtp: authentication required")
	// ErrAuthFailed indicates a SASL exchange failed or an unknown
	// mechanism was requested.
	ErrAuthFailed = errors.New("smtp: authentication failed")
)

// ErrorResult pairs a 3-digit SMTP reply code with an optional RFC 2034
// enhanced status code and message, per spec.md §4.4 and §7.
type ErrorResult struct {
	Code     int
	Enhanced string
	Message  string
}

// Line renders the ErrorResult as a single SMTP response line, e.g.
// "530 5.7.0 Authentication required".
func (e *ErrorResult) Line() string {
	if e.Enhanced != "" {
		return fmt.Sprintf("%d %s %s", e.Code, e.Enhanced, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

var (
	resultParse        = &ErrorResult{Code: 501, Message: "Syntax error in parameters"}
	resultBadSequence  = &ErrorResult{Code: 503, Enhanced: "5.5.1", Message: "Bad sequence of commands"}
	resultAuthRequired = &ErrorResult{Code: 530, Enhanced: "5.7.0", Message: "Authentication required"}
	resultAuthFailed   = &ErrorResult{Code: 535, Enhanced: "5.7.8", Message: "Authentication credentials invalid"}
	resultUnrecognised = &ErrorResult{Code: 500, Message: "Command not recognised"}
)

// ResultFor maps a sentinel error (or any error wrapping one) to the
// ErrorResult that should be written to the client. Unrecognised
// errors map to a generic 500.
func ResultFor(err error) *ErrorResult {
	switch {
	case errors.Is(err, ErrParse):
		return resultParse
	case errors.Is(err, ErrBadSequence):
		return resultBadSequence
	case errors.Is(err, ErrAuthRequired):
		return resultAuthRequired
	case errors.Is(err, ErrAuthFailed):
		return resultAuthFailed
	default:
		return resultUnrecognised
	}
}
