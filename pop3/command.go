package pop3

import (
	"fmt"
	"strings"
)

// Verb name constants, the POP3 subset from spec.md §4.4.
const (
	CmdCAPA = "CAPA"
	CmdUSER = "USER"
	CmdPASS = "PASS"
	CmdAPOP = "APOP"
	CmdAUTH = "AUTH"
	CmdSTAT = "STAT"
	CmdLIST = "LIST"
	CmdUIDL = "UIDL"
	CmdRETR = "RETR"
	CmdDELE = "DELE"
	CmdTOP  = "TOP"
	CmdNOOP = "NOOP"
	CmdRSET = "RSET"
	CmdQUIT = "QUIT"
)

var allowedStates = map[string]map[State]bool{
	CmdCAPA: {StateAuthorization: true, StateTransaction: true},
	CmdUSER: {StateAuthorization: true},
	CmdPASS: {StateAuthorization: true},
	CmdAPOP: {StateAuthorization: true},
	CmdAUTH: {StateAuthorization: true},
	CmdSTAT: {StateTransaction: true},
	CmdLIST: {StateTransaction: true},
	CmdUIDL: {StateTransaction: true},
	CmdRETR: {StateTransaction: true},
	CmdDELE: {StateTransaction: true},
	CmdTOP:  {StateTransaction: true},
	CmdNOOP: {StateTransaction: true},
	CmdRSET: {StateTransaction: true},
	CmdQUIT: {StateAuthorization: true, StateTransaction: true},
}

// IsAllowedInState reports whether verb may be dispatched while the
// session is in state s.
func IsAllowedInState(verb string, s State) bool {
	m, ok := allowedStates[verb]
	if !ok {
		return false
	}
	return m[s]
}

// Command is a parsed POP3 command.
type Command struct {
	Verb string
	Args []string
}

// ParseLine splits a raw line into an uppercased verb and the
// remaining whitespace-separated arguments.
func ParseLine(line string) (verb string, args []string, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: empty command", ErrParse)
	}
	return strings.ToUpper(fields[0]), fields[1:], nil
}
