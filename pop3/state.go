// Package pop3 implements the POP3 protocol engine: session state,
// command parsing, and per-verb execution against a mailbox.MailboxStore.
package pop3

// State represents a POP3 session's position in the RFC 1939 §3
// state machine.
type State int

const (
	// StateAuthorization is the initial state, before USER/PASS or APOP
	// or AUTH succeeds.
	StateAuthorization State = iota
	// StateTransaction is the state after successful authentication,
	// while message operations are permitted.
	StateTransaction
	// StateUpdate is the state entered by QUIT from StateTransaction,
	// during which deletions are applied.
	StateUpdate
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}
