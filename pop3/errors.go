package pop3

import "errors"

// Sentinel errors for the POP3 half of the taxonomy in spec.md §7.
// pop3server maps these to "-ERR" response lines.
var (
	// ErrParse indicates malformed command arguments.
	ErrParse = errors.New("pop3: parse error")
	// ErrBadSequence indicates the command is not allowed in the
	// session's current state.
	ErrBadSequence = errors.New("pop3: bad sequence of commands")
	// ErrAuthFailed indicates USER/PASS, APOP, or AUTH credentials did
	// not verify.
	ErrAuthFailed = errors.New("pop3: authentication failed")
	// ErrNoSuchMessage indicates a message number argument is out of
	// range or already deleted.
	ErrNoSuchMessage = errors.New("pop3: no such message")
)

// ResultFor maps a sentinel error to the "-ERR" line that should be
// written to the client.
func ResultFor(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "-ERR syntax error in parameters"
	case errors.Is(err, ErrBadSequence):
		return "-ERR command not valid in this state"
	case errors.Is(err, ErrAuthFailed):
		return "-ERR authentication failed"
	case errors.Is(err, ErrNoSuchMessage):
		return "-ERR no such message"
	default:
		return "-ERR"
	}
}
