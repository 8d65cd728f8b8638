package smtp

import (
	"fmt"
	"strings"
)

// Verb name constants, the SMTP subset from spec.md §4.4.
const (
	CmdHELO     = "HELO"
	CmdEHLO     = "EHLO"
	CmdAUTH     = "AUTH"
	CmdMAIL     = "MAIL"
	CmdRCPT     = "RCPT"
	CmdDATA     = "DATA"
	CmdRSET     = "RSET"
	CmdNOOP     = "NOOP"
	CmdQUIT     = "QUIT"
	CmdVRFY     = "VRFY"
	CmdSTARTTLS = "STARTTLS"
)

// allowedStates maps each verb to the session states in which it may
// be dispatched (spec.md §4.4's per-verb state preconditions). VRFY may
// be issued at any time.
var allowedStates = map[string]map[State]bool{
	CmdHELO:     {StateGreeting: true, StateHelo: true, StateMail: true, StateRcpt: true, StateAuth: true},
	CmdEHLO:     {StateGreeting: true, StateHelo: true, StateMail: true, StateRcpt: true, StateAuth: true},
	CmdAUTH:     {StateHelo: true},
	CmdMAIL:     {StateHelo: true},
	CmdRCPT:     {StateMail: true, StateRcpt: true},
	CmdDATA:     {StateRcpt: true},
	CmdRSET:     {StateHelo: true, StateMail: true, StateRcpt: true, StateData: true},
	CmdNOOP:     {StateGreeting: true, StateHelo: true, StateMail: true, StateRcpt: true, StateData: true},
	CmdQUIT:     {StateGreeting: true, StateHelo: true, StateMail: true, StateRcpt: true, StateData: true},
	CmdVRFY:     nil, // nil means "allowed in any state"
	CmdSTARTTLS: {StateHelo: true},
}

// IsAllowedInState reports whether verb may be dispatched while the
// session is in state s.
func IsAllowedInState(verb string, s State) bool {
	m, ok := allowedStates[verb]
	if !ok {
		return false
	}
	if m == nil {
		return true
	}
	return m[s]
}

// Command is a parsed SMTP command value: the shared result of every
// per-verb Parser, which smtpserver dispatches on by Verb to the
// matching Session Handle* method. It corresponds to the
// "tagged variant" Command/parser/execute contract of spec.md §4.4/§9.
type Command struct {
	Verb string
	Args []string
	Raw  string
}

// Parser parses the remainder of a command line (after the verb) into
// a Command, or returns an error wrapping ErrParse.
type Parser func(args []string) (*Command, error)

// ParseLine splits a raw line into an uppercased verb and the
// remaining whitespace-separated arguments.
func ParseLine(line string) (verb string, args []string, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: empty command", ErrParse)
	}
	return strings.ToUpper(fields[0]), fields[1:], nil
}

// DefaultParsers returns a Parser for every verb in spec.md §4.4,
// enforcing each verb's argument shape (e.g. MAIL requires a FROM:
// prefix). The returned map is meant to seed a Server's command
// registry; callers may add, replace, or remove entries at runtime
// (spec.md §4.5).
func DefaultParsers() map[string]Parser {
	return map[string]Parser{
		CmdHELO: func(args []string) (*Command, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: HELO requires a hostname", ErrParse)
			}
			return &Command{Verb: CmdHELO, Args: args}, nil
		},
		CmdEHLO: func(args []string) (*Command, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: EHLO requires a hostname", ErrParse)
			}
			return &Command{Verb: CmdEHLO, Args: args}, nil
		},
		CmdAUTH: func(args []string) (*Command, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: AUTH requires a mechanism", ErrParse)
			}
			return &Command{Verb: CmdAUTH, Args: args}, nil
		},
		CmdMAIL: func(args []string) (*Command, error) {
			if len(args) < 1 || !strings.HasPrefix(strings.ToUpper(args[0]), "FROM:") {
				return nil, fmt.Errorf("%w: MAIL requires FROM:<addr>", ErrParse)
			}
			return &Command{Verb: CmdMAIL, Args: args}, nil
		},
		CmdRCPT: func(args []string) (*Command, error) {
			if len(args) < 1 || !strings.HasPrefix(strings.ToUpper(args[0]), "TO:") {
				return nil, fmt.Errorf("%w: RCPT requires TO:<addr>", ErrParse)
			}
			return &Command{Verb: CmdRCPT, Args: args}, nil
		},
		CmdDATA: func(args []string) (*Command, error) {
			return &Command{Verb: CmdDATA, Args: args}, nil
		},
		CmdRSET: func(args []string) (*Command, error) {
			return &Command{Verb: CmdRSET, Args: args}, nil
		},
		CmdNOOP: func(args []string) (*Command, error) {
			return &Command{Verb: CmdNOOP, Args: args}, nil
		},
		CmdQUIT: func(args []string) (*Command, error) {
			return &Command{Verb: CmdQUIT, Args: args}, nil
		},
		CmdVRFY: func(args []string) (*Command, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: VRFY requires a mailbox", ErrParse)
			}
			return &Command{Verb: CmdVRFY, Args: args}, nil
		},
		CmdSTARTTLS: func(args []string) (*Command, error) {
			return &Command{Verb: CmdSTARTTLS, Args: args}, nil
		},
	}
}

// MailFromAddress extracts the envelope sender from a MAIL command's
// arguments.
func MailFromAddress(args []string) string {
	return ExtractMailboxFromArg(strings.Join(args, " "))
}

// RcptToAddress extracts the envelope recipient from a RCPT command's
// arguments.
func RcptToAddress(args []string) string {
	return ExtractMailboxFromArg(strings.Join(args, " "))
}
